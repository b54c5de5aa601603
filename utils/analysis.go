package utils

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tieubaoca/jwt-assistant-be/types"
)

var registeredClaimOrder = []string{"iss", "sub", "aud", "exp", "nbf", "iat", "jti", "azp", "scope"}

var claimDescriptions = map[string]string{
	"iss":   "Issuer: The entity that issued this token.",
	"sub":   "Subject: The specific user or entity this token refers to.",
	"aud":   "Audience: The intended recipient of this token.",
	"exp":   "Expiration Time: When this token stops being valid.",
	"nbf":   "Not Before: The token is not valid before this time.",
	"iat":   "Issued At: When this token was created.",
	"jti":   "JWT ID: A unique identifier for this token.",
	"azp":   "Authorized Party: The party authorized to use the token.",
	"scope": "Scope: Permissions granted to this token.",
}

var algorithmRisks = map[string]string{
	"none":  "CRITICAL: 'none' algorithm means this token is unsecured.",
	"HS256": "Symmetric Key: Requires the secret to be shared. If the secret is weak, it can be brute-forced.",
	"RS256": "Asymmetric Key: Uses a public/private key pair. Generally secure.",
}

const timeLayout = "2006-01-02 15:04:05 UTC"

// AnalyzeToken explains the header and every claim of a decoded token.
func AnalyzeToken(header, payload map[string]any, now time.Time) types.AnalysisResult {
	result := types.AnalysisResult{
		Status:            types.TokenStatusValid,
		ClaimsExplanation: []types.ClaimExplanation{},
		RiskWarnings:      []string{},
	}

	alg := stringOr(header["alg"], "unknown")
	typ := stringOr(header["typ"], "JWT")
	result.HeaderExplanation = strings.TrimSpace(
		fmt.Sprintf("This is a %s token using the %s algorithm. %s", typ, alg, algorithmRisks[alg]))

	if strings.EqualFold(alg, "none") {
		result.RiskWarnings = append(result.RiskWarnings,
			"The token is unsigned ('none' algorithm); anyone can forge its claims.")
	}

	nowUnix := float64(now.Unix())
	for _, key := range orderedClaimKeys(payload) {
		value := payload[key]
		desc, ok := claimDescriptions[key]
		if !ok {
			desc = "Custom Claim"
		}

		if ts, isNum := toFloat(value); isNum && (key == "exp" || key == "iat" || key == "nbf") {
			readable := time.Unix(int64(ts), 0).UTC().Format(timeLayout)
			switch key {
			case "exp":
				if ts < nowUnix {
					desc = fmt.Sprintf("%s (EXPIRED at %s)", desc, readable)
					result.Status = types.TokenStatusExpired
					result.RiskWarnings = append(result.RiskWarnings,
						fmt.Sprintf("Token expired at %s and must be rejected by verifiers.", readable))
				} else {
					remaining := int((ts - nowUnix) / 60)
					desc = fmt.Sprintf("%s (Valid until %s, ~%d mins left)", desc, readable, remaining)
				}
			case "nbf":
				desc = fmt.Sprintf("%s (%s)", desc, readable)
				if ts > nowUnix {
					result.RiskWarnings = append(result.RiskWarnings,
						fmt.Sprintf("Token is not valid before %s.", readable))
				}
			default:
				desc = fmt.Sprintf("%s (%s)", desc, readable)
			}
		}

		result.ClaimsExplanation = append(result.ClaimsExplanation, types.ClaimExplanation{
			Key:         key,
			Value:       value,
			Description: desc,
		})
	}

	if _, ok := payload["exp"]; !ok {
		result.RiskWarnings = append(result.RiskWarnings,
			"No 'exp' claim: this token never expires.")
	}
	return result
}

// orderedClaimKeys lists registered claims first, then the rest alphabetically.
func orderedClaimKeys(payload map[string]any) []string {
	keys := make([]string, 0, len(payload))
	for _, k := range registeredClaimOrder {
		if _, ok := payload[k]; ok {
			keys = append(keys, k)
		}
	}
	var custom []string
	for k := range payload {
		if _, registered := claimDescriptions[k]; !registered {
			custom = append(custom, k)
		}
	}
	sort.Strings(custom)
	return append(keys, custom...)
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// ClaimUnix reads a numeric time claim.
func ClaimUnix(payload map[string]any, key string) (int64, bool) {
	f, ok := toFloat(payload[key])
	return int64(f), ok
}
