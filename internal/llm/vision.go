package llm

import (
	"context"
	"errors"
	"strings"
)

// ReceiptLabel is the exact answer vision returns for a payment receipt.
// It is also a payment-confirmation phrase, so a described receipt takes
// the payment path.
const ReceiptLabel = "Comprobante de pago"

const visionPrompt = `Analiza esta imagen y describe lo que ves. Si parece un comprobante de pago de Yape, BCP u otro banco peruano, responde con el texto exacto: "` + ReceiptLabel + `". Si es una imagen genérica, descríbela en una oración.`

// Describer turns an image into text using a multimodal client.
type Describer struct {
	client Client
}

// NewDescriber wraps a vision-capable client.
func NewDescriber(client Client) *Describer {
	return &Describer{client: client}
}

// Describe returns a one-sentence description of img, or ReceiptLabel for
// payment receipts.
func (d *Describer) Describe(ctx context.Context, img Image) (string, error) {
	if d == nil || d.client == nil {
		return "", errors.New("no vision provider configured")
	}
	if img.MimeType == "" {
		img.MimeType = "image/jpeg"
	}
	resp, err := d.client.Complete(ctx, CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: visionPrompt}},
		Images:   []Image{img},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
