package types

const (
	TokenStatusValid   = "VALID"
	TokenStatusExpired = "EXPIRED"
	TokenStatusInvalid = "INVALID"
)

type TokenRequest struct {
	Token string `json:"token"`
}

type DecodedToken struct {
	Header    map[string]any `json:"header"`
	Payload   map[string]any `json:"payload"`
	Signature string         `json:"signature"`
}

// TokenContext is the snapshot of a decoded token attached to a session.
type TokenContext struct {
	Header           map[string]any `json:"header,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
	SignaturePresent bool           `json:"signature_present"`
	Error            string         `json:"error,omitempty"`
}

type ClaimExplanation struct {
	Key         string `json:"key"`
	Value       any    `json:"value"`
	Description string `json:"description"`
}

type AnalysisResult struct {
	HeaderExplanation string             `json:"header_explanation"`
	ClaimsExplanation []ClaimExplanation `json:"claims_explanation"`
	Status            string             `json:"status"`
	RiskWarnings      []string           `json:"risk_warnings"`
}

type TokenResponse struct {
	Success   bool           `json:"success"`
	Header    map[string]any `json:"header"`
	Payload   map[string]any `json:"payload"`
	Signature string         `json:"signature,omitempty"`
	Analysis  AnalysisResult `json:"analysis"`
	Error     string         `json:"error,omitempty"`
}

type GenerateRequest struct {
	Payload          map[string]any `json:"payload"`
	Secret           string         `json:"secret"`
	Algorithm        string         `json:"algorithm"`
	ExpiresInMinutes *int           `json:"expires_in_minutes"`
}

type GenerateResponse struct {
	Token   string `json:"token"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
