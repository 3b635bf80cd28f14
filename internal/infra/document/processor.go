package document

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/skip2/go-qrcode"

	"decertify/internal/domain"
)

const (
	DefaultMaxMarkerBytes = 512
	DefaultQRSize         = 256

	mediaTypePDF = "application/pdf"
	// Bottom-right corner of page 1, above any other page content.
	markerPlacement = "position:br, offset:-24 24, scalefactor:0.15 abs, rotation:0, opacity:1"
)

var disableConfigDir sync.Once

// Processor stamps a verification QR code onto the first page of a PDF.
type Processor struct {
	MaxMarkerBytes int
	QRSize         int
}

func NewProcessor() *Processor {
	disableConfigDir.Do(api.DisableConfigDir)
	return &Processor{
		MaxMarkerBytes: DefaultMaxMarkerBytes,
		QRSize:         DefaultQRSize,
	}
}

func (p *Processor) Embed(ctx context.Context, document []byte, marker domain.VerificationPayload) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(document) == 0 {
		return nil, fmt.Errorf("%w: empty document", domain.ErrMalformedDocument)
	}
	if detected := mimetype.Detect(document); !detected.Is(mediaTypePDF) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, detected.String())
	}

	if marker.RequestID == "" {
		return nil, fmt.Errorf("%w: marker request id is required", domain.ErrValidation)
	}
	text := marker.Text()
	if len(text) > p.maxMarkerBytes() {
		return nil, fmt.Errorf("%w: %d bytes", domain.ErrPayloadTooLarge, len(text))
	}
	png, err := qrcode.Encode(text, qrcode.Medium, p.qrSize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPayloadTooLarge, err)
	}

	conf := configuration()
	if _, err := api.PageCount(bytes.NewReader(document), conf); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedDocument, err)
	}
	wm, err := api.ImageWatermarkForReader(bytes.NewReader(png), markerPlacement, true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("build marker: %w", err)
	}
	var out bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(document), &out, []string{"1"}, wm, conf); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedDocument, err)
	}
	return out.Bytes(), nil
}

func (p *Processor) maxMarkerBytes() int {
	if p.MaxMarkerBytes <= 0 {
		return DefaultMaxMarkerBytes
	}
	return p.MaxMarkerBytes
}

func (p *Processor) qrSize() int {
	if p.QRSize <= 0 {
		return DefaultQRSize
	}
	return p.QRSize
}

func configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}
