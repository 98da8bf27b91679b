// Package main печатает подписанный JWT для фронтенда бота или администратора.
//
//	CONFIG_PATH=config/local.yaml go run ./cmd/admin-token -subject telegram-bot -role bot
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/magabrotheeeer/vpn-shop/internal/config"
	"github.com/magabrotheeeer/vpn-shop/internal/lib/jwt"
)

func main() {
	subject := flag.String("subject", "telegram-bot", "token subject (API client name)")
	role := flag.String("role", jwt.RoleBot, "token role: bot or admin")
	flag.Parse()

	cfg := config.MustLoad()
	if cfg.JWTToken.JWTSecretKey == "" {
		fmt.Fprintln(os.Stderr, "jwt_secret_key is not set")
		os.Exit(1)
	}

	token, err := jwt.NewJWTMaker(cfg.JWTToken.JWTSecretKey, cfg.JWTToken.TokenTTL).GenerateToken(*subject, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
