package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/book-expert/speech-service/internal/core"
)

var (
	// ErrInvalidArtifactName is returned for names that could escape the store.
	ErrInvalidArtifactName = fmt.Errorf("%w: invalid artifact name", core.ErrIO)
	// ErrArtifactNotFound is returned by Read for unknown names.
	ErrArtifactNotFound = fmt.Errorf("%w: artifact not found", core.ErrIO)

	errEmptyName = errors.New("name is empty")
)

// ValidateName rejects empty names, names with path separators and
// parent-directory references.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: %w", ErrInvalidArtifactName, errEmptyName)
	}

	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidArtifactName, name)
	}

	return nil
}
