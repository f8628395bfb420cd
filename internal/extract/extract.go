// Package extract pulls a candidate recipient name and delivery address out
// of OCR label text. Each concern has interchangeable strategies that can be
// used alone or chained primary-then-fallback.
//
// An empty string means "no candidate found"; it is a normal outcome, not an
// error. A non-nil error reports a collaborator failure (for example the LLM
// service timing out); callers treat the value as absent and carry on.
package extract

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// NameExtractor finds a candidate recipient name.
type NameExtractor interface {
	ExtractName(ctx context.Context, text string) (string, error)
}

// AddressExtractor finds a candidate delivery address.
type AddressExtractor interface {
	ExtractAddress(ctx context.Context, text string) (string, error)
}

// NameChain tries each extractor in order and returns the first non-empty
// name. Errors from extractors that were skipped over are joined and returned
// alongside the winning value.
type NameChain []NameExtractor

// ExtractName implements NameExtractor.
func (c NameChain) ExtractName(ctx context.Context, text string) (string, error) {
	var errs []error
	for _, e := range c {
		name, err := e.ExtractName(ctx, text)
		if err != nil {
			zap.L().Debug("extract: name strategy failed, trying next", zap.Error(err))
			errs = append(errs, err)
		}
		if name != "" {
			return name, errors.Join(errs...)
		}
	}
	return "", errors.Join(errs...)
}

// AddressChain tries each extractor in order and returns the first non-empty
// address, with any errors met on the way.
type AddressChain []AddressExtractor

// ExtractAddress implements AddressExtractor.
func (c AddressChain) ExtractAddress(ctx context.Context, text string) (string, error) {
	var errs []error
	for _, e := range c {
		addr, err := e.ExtractAddress(ctx, text)
		if err != nil {
			zap.L().Debug("extract: address strategy failed, trying next", zap.Error(err))
			errs = append(errs, err)
		}
		if addr != "" {
			return addr, errors.Join(errs...)
		}
	}
	return "", errors.Join(errs...)
}
