package media

import (
	"encoding/base64"

	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

// QRDataURL renders content as a PNG QR code inside a data URL, ready for
// an <img> tag on the control plane.
func QRDataURL(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, qrSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
