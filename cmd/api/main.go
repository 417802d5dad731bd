package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"custodia/access"
	"custodia/custody"
	"custodia/db"
	"custodia/disburse"
	"custodia/identity"
	"custodia/ledger"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	store := ledger.NewRepository(pool)
	roster := access.NewRepository(pool)
	accessService := access.NewService(pool, roster, store)
	book := disburse.NewAccountBook(pool)
	engine := custody.NewEngine(pool, store, accessService, book)

	server := &Server{
		identityService: identity.NewService(identity.NewRepository(pool), jwtSecret),
		accessService:   accessService,
		engine:          engine,
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("custody api listening on %s", addr)
	if err := http.ListenAndServe(addr, server.routes()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
