package peerlink

import (
	"context"
	"net/http"
	"time"

	"earbud-framework/pkg/switchsync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout limita cada troca de frame/ack quando o contexto não tem prazo.
const DefaultTimeout = 5 * time.Second

// ErrRejected indica que o outro fone recusou um registro.
var ErrRejected = errors.New("peerlink: record rejected by peer")

// Applier recebe os registros no fone que vai assumir o papel de primário.
type Applier interface {
	ApplyRecord(ctx context.Context, rec switchsync.Record) error
}

// Server aceita a conexão do fone primário e aplica cada frame recebido.
type Server struct {
	applier  Applier
	maxBlob  int
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewServer cria o endpoint. maxBlob deve ser o mesmo tamanho máximo usado na coleta.
func NewServer(a Applier, maxBlob int) *Server {
	return &Server{
		applier: a,
		maxBlob: maxBlob,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logrus.WithField("component", "peerlink"),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Error("erro no upgrade")
		return
	}
	defer ws.Close()
	log := s.log.WithField("peer", ws.RemoteAddr().String())
	log.Info("fone primário conectado")

	for {
		mt, msg, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("conexão encerrada")
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}

		ack := Ack{}
		rec, err := DecodeFrame(msg, s.maxBlob)
		if err == nil {
			ack.Tag = rec.Tag
			err = s.applier.ApplyRecord(r.Context(), rec)
		}
		if err != nil {
			ack.Error = err.Error()
			log.WithError(err).WithField("tag", ack.Tag).Error("registro recusado")
		}
		if err := ws.WriteJSON(ack); err != nil {
			log.WithError(err).Error("falha ao enviar ack")
			return
		}
	}
}

// Run serve o endpoint em addr até ctx ser cancelado.
func (s *Server) Run(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, s)
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("aguardando o outro fone")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "peerlink: listen")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Conn é o lado primário do enlace. Implementa switchsync.Emitter.
type Conn struct {
	ws *websocket.Conn
}

// Dial conecta ao endpoint do outro fone.
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "peerlink: dial %s", url)
	}
	return &Conn{ws: ws}, nil
}

func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(DefaultTimeout)
}

// SendSwitchData envia um registro e espera o ack correspondente.
func (c *Conn) SendSwitchData(ctx context.Context, rec switchsync.Record) error {
	frame, err := EncodeFrame(rec)
	if err != nil {
		return err
	}
	dl := deadline(ctx)
	if err := c.ws.SetWriteDeadline(dl); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return errors.Wrap(err, "peerlink: write frame")
	}

	if err := c.ws.SetReadDeadline(dl); err != nil {
		return err
	}
	var ack Ack
	if err := c.ws.ReadJSON(&ack); err != nil {
		return errors.Wrap(err, "peerlink: read ack")
	}
	if ack.Error != "" {
		return errors.Wrapf(ErrRejected, "tag %d: %s", ack.Tag, ack.Error)
	}
	if ack.Tag != rec.Tag {
		return errors.Errorf("peerlink: ack for tag %d, sent %d", ack.Tag, rec.Tag)
	}
	return nil
}

// Close encerra o enlace de forma limpa.
func (c *Conn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}
