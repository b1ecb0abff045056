// Command dispatch-token issues a signed bearer token for local testing
// against the dispatch API.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"service-dispatch/internal/shared/config"
	"service-dispatch/internal/shared/jwt"
	"service-dispatch/internal/shared/util"
)

func main() {
	subject := pflag.String("sub", "", "Token subject: user, provider or admin id")
	role := pflag.String("role", jwt.RoleCustomer, "ADMIN|PROVIDER|CUSTOMER")
	ttl := pflag.Duration("ttl", time.Hour, "Token lifetime")
	configPath := pflag.StringP("config", "c", "config.yaml", "Config file holding auth.jwt_secret")
	secret := pflag.String("secret", "", "Signing secret; overrides the config file")
	pflag.Parse()

	log := util.New()

	if *subject == "" {
		fmt.Println("Usage: dispatch-token --sub=<id> [--role=CUSTOMER] [--ttl=1h] [--config=config.yaml | --secret=...]")
		os.Exit(1)
	}
	r := strings.ToUpper(*role)
	switch r {
	case jwt.RoleAdmin, jwt.RoleProvider, jwt.RoleCustomer:
	default:
		log.Fatal("dispatch-token", "unknown role "+*role, nil)
	}

	key := *secret
	if key == "" {
		cfg, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatal("Config", "Failed to load configuration", err)
		}
		key = cfg.Auth.JWTSecret
	}
	if key == "" {
		log.Fatal("Config", "no signing secret configured", nil)
	}

	token, err := jwt.NewManager(key, *ttl).Generate(*subject, r)
	if err != nil {
		log.Fatal("dispatch-token", "failed to sign token", err)
	}
	fmt.Println(token)
}
