package parser

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"warden/internal/config"
)

// Parser decodes a raw message body into a typed payload.
type Parser interface {
	Parse(body []byte) (interface{}, error)
	Type() string
}

func New(parserType string) (Parser, error) {
	switch parserType {
	case config.ParserJSON:
		return &JSONParser{}, nil
	case config.ParserText:
		return &TextParser{}, nil
	case config.ParserBinary:
		return &BinaryParser{}, nil
	default:
		return nil, fmt.Errorf("unknown parser type: %s", parserType)
	}
}

// JSONParser decodes the body as a JSON document.
type JSONParser struct{}

func (p *JSONParser) Type() string { return config.ParserJSON }

func (p *JSONParser) Parse(body []byte) (interface{}, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty message body")
	}
	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return payload, nil
}

// TextParser decodes the body as a UTF-8 string.
type TextParser struct{}

func (p *TextParser) Type() string { return config.ParserText }

func (p *TextParser) Parse(body []byte) (interface{}, error) {
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("body is not valid UTF-8")
	}
	return string(body), nil
}

// BinaryParser passes the body through untouched.
type BinaryParser struct{}

func (p *BinaryParser) Type() string { return config.ParserBinary }

func (p *BinaryParser) Parse(body []byte) (interface{}, error) {
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}
