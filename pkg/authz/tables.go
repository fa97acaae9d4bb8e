package authz

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

const (
	MinCode = 1
	MaxCode = 255
)

// Tables maps app labels and quota materials to the integer codes carried
// in tokens. Both tables are loaded once and never change afterwards.
type Tables struct {
	apps      map[string]int
	appNames  map[int]string
	materials map[string]map[string]int
}

// NewTables validates and wraps already-decoded tables.
func NewTables(apps map[string]int, materials map[string]map[string]int) (*Tables, error) {
	if err := validateCodes("app", apps); err != nil {
		return nil, err
	}
	t := &Tables{
		apps:      map[string]int{},
		appNames:  map[int]string{},
		materials: map[string]map[string]int{},
	}
	for name, code := range apps {
		t.apps[name] = code
		t.appNames[code] = name
	}
	for app, mats := range materials {
		if _, ok := apps[app]; !ok {
			return nil, fmt.Errorf("material table names unknown app %q", app)
		}
		if err := validateCodes("material of "+app, mats); err != nil {
			return nil, err
		}
		t.materials[app] = map[string]int{}
		for name, code := range mats {
			t.materials[app][name] = code
		}
	}
	return t, nil
}

// LoadTables reads the app-code table and the material table from JSON
// files shaped {"user_management":1,...} and
// {"user_management":{"num_emails":1,...},...}. An empty materialsFile
// means no quota materials.
func LoadTables(appsFile, materialsFile string) (*Tables, error) {
	var apps map[string]int
	if err := readJSON(appsFile, &apps); err != nil {
		return nil, fmt.Errorf("failed to load app codes: %w", err)
	}
	materials := map[string]map[string]int{}
	if materialsFile != "" {
		if err := readJSON(materialsFile, &materials); err != nil {
			return nil, fmt.Errorf("failed to load material codes: %w", err)
		}
	}
	return NewTables(apps, materials)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// validateCodes requires non-empty names and unique codes within
// [MinCode, MaxCode] numbered contiguously from MinCode.
func validateCodes(what string, table map[string]int) error {
	if len(table) == 0 {
		return fmt.Errorf("%s table is empty", what)
	}
	seen := map[int]string{}
	codes := make([]int, 0, len(table))
	for name, code := range table {
		if name == "" {
			return fmt.Errorf("%s table has an empty name", what)
		}
		if code < MinCode || code > MaxCode {
			return fmt.Errorf("%s %q: code %d outside [%d, %d]", what, name, code, MinCode, MaxCode)
		}
		if other, dup := seen[code]; dup {
			return fmt.Errorf("%s code %d used by both %q and %q", what, code, other, name)
		}
		seen[code] = name
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for i, code := range codes {
		if code != MinCode+i {
			return fmt.Errorf("%s codes are not contiguous: missing %d", what, MinCode+i)
		}
	}
	return nil
}

// AppCode returns the code of app label name
func (t *Tables) AppCode(name string) (int, bool) {
	code, ok := t.apps[name]
	return code, ok
}

// AppName returns the label of an app code
func (t *Tables) AppName(code int) (string, bool) {
	name, ok := t.appNames[code]
	return name, ok
}

// MaterialCode returns the code of material name within app
func (t *Tables) MaterialCode(app, name string) (int, bool) {
	code, ok := t.materials[app][name]
	return code, ok
}

// Apps returns the app labels in code order
func (t *Tables) Apps() []string {
	names := make([]string, 0, len(t.apps))
	for code := MinCode; code < MinCode+len(t.apps); code++ {
		names = append(names, t.appNames[code])
	}
	return names
}
