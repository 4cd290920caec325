package switchsync

import (
	"fmt"

	"github.com/pkg/errors"
)

// Categorias de erro do protocolo de troca de papel. Use errors.Is para testar.
var (
	ErrNotReady        = errors.New("switchsync: participant not ready")
	ErrOutOfMemory     = errors.New("switchsync: scratch buffer unavailable")
	ErrInvalidArgument = errors.New("switchsync: invalid argument")
	ErrInvalidTag      = errors.New("switchsync: invalid tag")
	ErrUnsupportedTag  = errors.New("switchsync: tag has no set function")
)

// TagError identifica qual participante (e em qual operação) interrompeu o protocolo.
// Err é o erro original, sem reinterpretação.
type TagError struct {
	Op   string // "ready", "collect" ou "apply"
	Tag  int
	Name string
	Err  error
}

func (e *TagError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("switchsync: %s tag %d (%s): %v", e.Op, e.Tag, e.Name, e.Err)
	}
	return fmt.Sprintf("switchsync: %s tag %d: %v", e.Op, e.Tag, e.Err)
}

func (e *TagError) Unwrap() error { return e.Err }

// FailedTag devolve a tag registrada em err, se houver.
func FailedTag(err error) (int, bool) {
	var te *TagError
	if errors.As(err, &te) {
		return te.Tag, true
	}
	return 0, false
}
