package decoy

import (
	"fmt"
	"math/rand"
	"strings"
)

const (
	charsAlphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	charsUpperDigits  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Values maps placeholder keys to the secrets generated for one session.
type Values map[string]string

// Expand replaces every {{KEY}} occurrence in s with its value.
func (v Values) Expand(s string) string {
	for key, val := range v {
		s = strings.ReplaceAll(s, "{{"+key+"}}", val)
	}
	return s
}

// NewValues generates a consistent secret set for one session. The same
// generated password appears wherever its key is referenced, so decoy
// files corroborate each other.
func NewValues(rng *rand.Rand) Values {
	return Values{
		"INTERNAL_IP":               fmt.Sprintf("10.0.%d.%d", 1+rng.Intn(255), 2+rng.Intn(253)),
		"DB_HOST":                   "db-prod-cluster.internal",
		"DB_NAME":                   "ecommerce_prod",
		"DB_USER":                   "prod_user",
		"DB_PASSWORD":               randomString(rng, 24, charsAlphanumeric),
		"DB_ROOT_USER":              "root",
		"DB_ROOT_PASSWORD":          randomString(rng, 32, charsAlphanumeric),
		"REDIS_PASSWORD":            randomString(rng, 16, charsAlphanumeric),
		"APP_ENCRYPTION_KEY":        randomString(rng, 44, charsAlphanumeric),
		"PUBLIC_DOMAIN":             "api.production-server.com",
		"ADMIN_EMAIL":               "sysadmin@production-server.com",
		"MAILGUN_API_KEY":           "key-" + randomString(rng, 32, charsAlphanumeric),
		"RANDOM_AWS_ID_16":          randomString(rng, 16, charsUpperDigits),
		"RANDOM_AWS_SECRET_40":      randomString(rng, 40, charsAlphanumeric),
		"RANDOM_AWS_ID_STAGING":     randomString(rng, 16, charsUpperDigits),
		"RANDOM_AWS_SECRET_STAGING": randomString(rng, 40, charsAlphanumeric),
		"ADMIN_NAME":                "Alex H.",
		"BACKUP_SERVER":             fmt.Sprintf("10.0.%d.200", 1+rng.Intn(255)),
		"BACKUP_SERVER_PASSWORD":    randomString(rng, 12, charsAlphanumeric),
		"JWT_SECRET":                randomString(rng, 64, charsAlphanumeric),
		"STAGING_PASSWORD":          randomString(rng, 10, charsAlphanumeric),
		"GITHUB_PAT_TOKEN":          "ghp_" + randomString(rng, 36, charsAlphanumeric),
		"ORG_NAME":                  "SecureCorpInc",
	}
}

func randomString(rng *rand.Rand, length int, chars string) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = chars[rng.Intn(len(chars))]
	}
	return string(b)
}
