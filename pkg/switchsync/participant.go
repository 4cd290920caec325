// Package switchsync implementa a sincronização de dados usada quando os dois fones
// de um par trocam de papel (primário <-> secundário).
//
// Cada subsistema que guarda estado que precisa migrar registra um Participant.
// A ordem do Registry define as tags e precisa ser idêntica nos dois fones.
package switchsync

import "context"

// Readier informa se o subsistema pode participar de uma troca agora.
type Readier interface {
	SwitchReady() bool
}

// Getter serializa o estado do subsistema em buf e devolve quantos bytes usou.
type Getter interface {
	SwitchGet(ctx context.Context, buf []byte) (int, error)
}

// Setter aplica um blob produzido pelo Getter da mesma tag no outro fone.
type Setter interface {
	SwitchSet(ctx context.Context, blob []byte) error
}

// Participant descreve um subsistema do registro. Todas as funções são opcionais.
// O estado continua pertencendo ao subsistema; o registro guarda só os pontos de entrada.
type Participant struct {
	Name  string
	Ready func() bool
	Get   func(ctx context.Context, buf []byte) (int, error)
	Set   func(ctx context.Context, blob []byte) error
}

// ParticipantOf monta um Participant a partir das interfaces que v implementa.
func ParticipantOf(name string, v any) Participant {
	p := Participant{Name: name}
	if r, ok := v.(Readier); ok {
		p.Ready = r.SwitchReady
	}
	if g, ok := v.(Getter); ok {
		p.Get = g.SwitchGet
	}
	if s, ok := v.(Setter); ok {
		p.Set = s.SwitchSet
	}
	return p
}

// Collectible indica se o participante produz blob na coleta.
func (p Participant) Collectible() bool { return p.Get != nil }
