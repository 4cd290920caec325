package switchsync

import "github.com/pkg/errors"

// MaxParticipants é limitado pela tag de 8 bits usada no enlace entre os fones.
const MaxParticipants = 256

// Registry é a lista ordenada e imutável de participantes. Tag == índice.
type Registry struct {
	participants []Participant
	last         int
}

// NewRegistry copia ps e calcula a última tag coletável.
func NewRegistry(ps ...Participant) (*Registry, error) {
	if len(ps) > MaxParticipants {
		return nil, errors.Wrapf(ErrInvalidArgument, "%d participants, max %d", len(ps), MaxParticipants)
	}
	r := &Registry{
		participants: append([]Participant(nil), ps...),
		last:         -1,
	}
	for tag, p := range r.participants {
		if p.Collectible() {
			r.last = tag
		}
	}
	return r, nil
}

// Len devolve o número de participantes.
func (r *Registry) Len() int { return len(r.participants) }

// At devolve o participante da tag.
func (r *Registry) At(tag int) (Participant, bool) {
	if tag < 0 || tag >= len(r.participants) {
		return Participant{}, false
	}
	return r.participants[tag], true
}

// LastCollectible devolve a maior tag com Get, ou -1.
func (r *Registry) LastCollectible() int { return r.last }

// Names lista os nomes em ordem de tag, para diagnóstico.
func (r *Registry) Names() []string {
	names := make([]string, len(r.participants))
	for i, p := range r.participants {
		names[i] = p.Name
	}
	return names
}
