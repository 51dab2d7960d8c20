package convert

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/timmy/webpmigrate/internal/codec"
	"github.com/timmy/webpmigrate/internal/domain"
)

// Verdict is the eligibility decision for one field.
type Verdict int

const (
	NeedsConversion Verdict = iota
	AlreadyTarget
	NotAnImage
)

func (v Verdict) String() string {
	switch v {
	case NeedsConversion:
		return "needs_conversion"
	case AlreadyTarget:
		return "already_target"
	case NotAnImage:
		return "not_an_image"
	default:
		return "unknown"
	}
}

// Filter decides whether a field's bytes should be converted.
type Filter struct{}

// Check classifies a field by its declared content type and its bytes. The
// decoded image is returned with NeedsConversion so it is not decoded twice.
func (Filter) Check(contentType string, data []byte) (Verdict, *codec.Image, error) {
	if domain.IsTargetContentType(contentType) {
		return AlreadyTarget, nil, nil
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return NotAnImage, nil, fmt.Errorf("%w: detected %s", domain.ErrNotAnImage, mt.String())
	}

	img, err := codec.Decode(data)
	if err != nil {
		return NotAnImage, nil, err
	}
	return NeedsConversion, img, nil
}
