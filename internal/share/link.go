package share

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/skip2/go-qrcode"
)

// PeerParam is the query parameter a share link uses to carry the peer id.
const PeerParam = "peer"

const DefaultQRSize = 320

var ErrNoPeerID = errors.New("no peer id to share")

// Link returns publicURL with ?peer=<selfID> added, keeping any existing query.
func Link(publicURL, selfID string) (string, error) {
	if selfID == "" {
		return "", ErrNoPeerID
	}
	u, err := url.Parse(publicURL)
	if err != nil {
		return "", fmt.Errorf("parsing public url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("public url %q is not absolute", publicURL)
	}
	q := u.Query()
	q.Set(PeerParam, selfID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// QRCode renders link as a PNG of size x size pixels.
func QRCode(link string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encoding qr code: %w", err)
	}
	return png, nil
}
