package anno

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/b2d-phantom/recorder/pkg/core"
)

//go:embed annotation.schema.json
var schemaJSON []byte

const schemaURL = "https://b2d-phantom.local/schemas/annotation.schema.json"

// ErrInvalid is wrapped when a document does not match the annotation schema.
var ErrInvalid = errors.New("invalid annotation")

// Reader decodes per-frame annotation files.
type Reader struct {
	schema *jsonschema.Schema
}

// NewReader returns a Reader. With validate set every document is checked
// against the embedded annotation schema before decoding.
func NewReader(validate bool) (*Reader, error) {
	r := &Reader{}
	if !validate {
		return r, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to load annotation schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile annotation schema: %w", err)
	}
	r.schema = schema
	return r, nil
}

// ReadFrame reads one gzip-compressed JSON annotation without validation.
func ReadFrame(path string) (*core.Frame, error) {
	return (&Reader{}).ReadFrame(path)
}

// ReadFrame reads and decodes one gzip-compressed JSON annotation.
func (r *Reader) ReadFrame(path string) (*core.Frame, error) {
	data, err := readGzip(path)
	if err != nil {
		return nil, err
	}

	if r.schema != nil {
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := r.schema.Validate(doc); err != nil {
			return nil, fmt.Errorf("%s: %w: %v", path, ErrInvalid, err)
		}
	}

	var frame core.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &frame, nil
}

func readGzip(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open annotation: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: not gzip: %w", path, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}
