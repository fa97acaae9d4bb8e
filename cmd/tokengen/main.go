// Command tokengen signs an access token with the local keystore, for
// manual testing of services behind the edge filters.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tendant/authcore/pkg/config"
	"github.com/tendant/authcore/pkg/jwks"
	"github.com/tendant/authcore/pkg/keygen"
	"github.com/tendant/authcore/pkg/logging"
	"github.com/tendant/authcore/pkg/token"
)

func main() {
	configPath := flag.String("config", "", "Optional YAML/JSON config file; the environment overrides it")
	profile := flag.Int("profile", 0, "Profile id embedded in the token")
	audience := flag.String("audience", "", "Comma separated audience tags (default: JWT_AUDIENCE)")
	perms := flag.String("perms", "[]", `Permissions as JSON, e.g. [{"app_code":2,"codename":"view_item"}]`)
	quota := flag.String("quota", "[]", `Quota as JSON, e.g. [{"app_code":2,"mat_code":1,"maxnum":5}]`)
	superuser := flag.Bool("superuser", false, "Mark the profile as superuser")
	expiry := flag.Duration("expiry", 0, "Token lifetime (default: JWT_LIFETIME)")
	rotate := flag.Bool("rotate", false, "Generate a signing key when the keystore has none")
	outputFormat := flag.String("format", "compact", "Output format: compact, full, or debug")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		fail("Invalid configuration", err)
	}
	slog.SetDefault(logging.New(os.Stderr, settings.LogFormat, settings.LogLevel))

	grant := token.Grant{Profile: *profile}
	if *superuser {
		grant.PrivStatus = token.PrivSuperuser
	}
	if err := json.Unmarshal([]byte(*perms), &grant.Perms); err != nil {
		fail("Failed to parse perms JSON", err)
	}
	if err := json.Unmarshal([]byte(*quota), &grant.Quota); err != nil {
		fail("Failed to parse quota JSON", err)
	}

	jwtCfg := settings.JWT
	if *expiry > 0 {
		jwtCfg.Lifetime = *expiry
	}
	var requested []string
	if *audience != "" {
		requested = strings.Split(*audience, ",")
		jwtCfg.Audience = requested
	}

	ctx := context.Background()
	ks, err := jwks.NewFileKeyStore(ctx, settings.Keystore, jwks.WithGenerator(keygen.NewPool(1)))
	if err != nil {
		fail("Failed to load keystore", err)
	}
	if ks.CurrentKid() == "" {
		if !*rotate {
			fail("Keystore has no signing key", fmt.Errorf("run with -rotate to generate one"))
		}
		if err := ks.Rotate(ctx); err != nil {
			fail("Failed to generate signing key", err)
		}
	}

	codec := token.NewCodec(ks, token.WithSigner(ks), token.WithIssuer(settings.JWT.Issuer))
	signed, exp, err := token.NewIssuer(codec, jwtCfg).Issue(grant, requested)
	if err != nil {
		fail("Failed to generate token", err)
	}

	switch *outputFormat {
	case "compact":
		fmt.Println(signed)
	case "full":
		fmt.Printf("Token: %s\nKid: %s\nExpires: %s\n", signed, ks.CurrentKid(), exp.Format(time.RFC3339))
	case "debug":
		var claims token.Claims
		parsed, _, err := jwt.NewParser().ParseUnverified(signed, &claims)
		if err != nil {
			fail("Failed to parse generated token", err)
		}
		fmt.Printf("=== Token Information ===\n")
		fmt.Printf("Token: %s\n\n", signed)
		fmt.Printf("=== Token Header ===\n")
		headerJSON, _ := json.MarshalIndent(parsed.Header, "", "  ")
		fmt.Printf("%s\n\n", headerJSON)
		fmt.Printf("=== Token Claims ===\n")
		claimsJSON, _ := json.MarshalIndent(claims, "", "  ")
		fmt.Printf("%s\n\n", claimsJSON)
		fmt.Printf("Expires: %s\n", exp.Format(time.RFC3339))
	default:
		fail("Unknown output format", fmt.Errorf("%s", *outputFormat))
	}
}

func fail(msg string, err error) {
	slog.Error(msg, "err", err)
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	os.Exit(1)
}
