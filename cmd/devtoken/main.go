// Command devtoken mints HS256 bearer tokens for local testing against a
// server sharing the same JWT_SECRET.
//
//	devtoken -id u-42 -role caissier -employee-type interne -ttl 8h
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-recovery-backend/internal/domain"
	"github.com/tbourn/go-recovery-backend/internal/http/middleware"
	"github.com/tbourn/go-recovery-backend/internal/sysutil"
)

func main() {
	_ = godotenv.Load()
	sysutil.SetupLogger("info", true, os.Stderr)

	id := flag.String("id", "", "User id, carried as the token subject (required)")
	name := flag.String("name", "", "Display name")
	role := flag.String("role", "", "Role: planificateur, caissier, financier, chauffeur or admin (required)")
	employeeType := flag.String("employee-type", "", "Employee type for chauffeurs and cashiers")
	companyID := flag.String("company", "", "Company id")
	ttl := flag.Duration("ttl", 8*time.Hour, "Token lifetime")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "Signing key (defaults to JWT_SECRET)")
	flag.Parse()

	if *id == "" || *role == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "Error: -id, -role and a signing key are required.")
		flag.Usage()
		os.Exit(1)
	}

	tok, err := middleware.IssueToken([]byte(*secret), domain.User{
		ID:           *id,
		FullName:     sysutil.FirstNonEmpty(*name, *id),
		Role:         *role,
		EmployeeType: *employeeType,
		CompanyID:    *companyID,
	}, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("sign token")
	}
	fmt.Println(tok)
}
