package translator

import (
	"fmt"

	"github.com/nullstack-gw/nexusgate/internal/upstream"
)

// Parser is the common shape of all three framing parsers: Feed consumes
// one chunk of the raw upstream response body.
type Parser interface {
	Feed(chunk []byte)
}

// NewParser returns the parser for format, wired to asm, per §4.6's
// three-framing dispatch.
func NewParser(format upstream.StreamFormat, asm *Assembler) (Parser, error) {
	switch format {
	case upstream.FormatAWSEventStream:
		return NewEventStreamScanner(asm), nil
	case upstream.FormatSSEJSON:
		return NewSSEJSONParser(asm), nil
	case upstream.FormatJSONLines:
		return NewJSONLinesParser(asm), nil
	default:
		return nil, fmt.Errorf("translator: unknown stream format %q", format)
	}
}
