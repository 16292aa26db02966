package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const OfflineModel = "offline-draft"

// OfflineGenerator produces a deterministic placeholder draft without any
// network call. It backs local development when GENERATOR_URL is unset.
type OfflineGenerator struct{}

func (OfflineGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	raw, err := json.Marshal(req.Context)
	if err != nil {
		return nil, fmt.Errorf("%w: encode context: %v", ErrUnavailable, err)
	}
	sum := sha256.Sum256(raw)

	title := strings.ReplaceAll(req.ContentType, "_", " ")
	detail := fmt.Sprintf("%d bytes of clinical context", len(raw))
	if s, ok := req.Context.(Summarizer); ok {
		detail = s.Summary()
	}
	text := fmt.Sprintf("Draft %s (ref %s). Based on %s. Review and edit before signing.",
		title, hex.EncodeToString(sum[:4]), detail)

	return &Response{Text: text, Model: OfflineModel, TokensUsed: len(strings.Fields(text))}, nil
}
