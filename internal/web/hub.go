// Package web serve o dashboard do fone: um websocket que recebe o estado do
// orquestrador a cada meio segundo e aceita os comandos "switch", "volume" e "shutdown".
package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"earbud-framework/pkg/device"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Tipos de mensagem trocados com o dashboard.
const (
	TypeStatusUpdate = "statusUpdate"
	TypeSwitch       = "switch"
	TypeSwitchResult = "switchResult"
	TypeShutdown     = "shutdown"
	TypeVolume       = "volume"
	TypeVolumeResult = "volumeResult"
)

// DefaultInterval é o período de envio do estado.
const DefaultInterval = 500 * time.Millisecond

// Backend é o que o hub precisa do orquestrador.
type Backend interface {
	Status() device.Status
	RequestSwitch(ctx context.Context) error
}

// VolumeControl ajusta o volume a pedido do dashboard.
type VolumeControl interface {
	SetVolume(ctx context.Context, a2dp, hfp uint8) error
}

// VolumeLevels é o corpo do comando "volume".
type VolumeLevels struct {
	A2DP uint8 `json:"a2dp"`
	HFP  uint8 `json:"hfp"`
}

// Message é o envelope JSON usado nos dois sentidos.
type Message struct {
	Type      string         `json:"type"`
	Status    *device.Status `json:"status,omitempty"`
	Volume    *VolumeLevels  `json:"volume,omitempty"`
	OK        bool           `json:"ok,omitempty"`
	Error     string         `json:"error,omitempty"`
	ElapsedMs int64          `json:"elapsedMs,omitempty"`
}

// Hub mantém os dashboards conectados.
type Hub struct {
	backend  Backend
	shutdown context.CancelFunc
	upgrader websocket.Upgrader

	// Interval é o período do broadcast; zero usa DefaultInterval.
	Interval time.Duration
	// StaticDir, se preenchido, é servido em "/".
	StaticDir string
	// Volume atende o comando "volume"; nil recusa o comando.
	Volume VolumeControl

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	log *logrus.Entry
}

// NewHub cria o hub. shutdown é chamado quando um dashboard pede o desligamento.
func NewHub(b Backend, shutdown context.CancelFunc) *Hub {
	return &Hub{
		backend:  b,
		shutdown: shutdown,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]bool),
		log:      logrus.WithField("component", "web"),
	}
}

// Handler devolve as rotas do dashboard.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)
	if h.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(h.StaticDir)))
	}
	return mux
}

// Run serve o dashboard em addr e transmite o estado até ctx acabar.
func (h *Hub) Run(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: h.Handler()}

	go h.Broadcast(ctx)

	errc := make(chan error, 1)
	go func() {
		h.log.Infof("Servidor web iniciado em http://%s", addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "web: falha ao iniciar servidor")
	case <-ctx.Done():
	}

	h.log.Info("Desligando o servidor web...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		h.log.WithError(err).Warn("Erro no desligamento do servidor web")
	}
	h.closeAll()
	h.log.Info("Servidor web desligado.")
	return nil
}

// Broadcast envia o estado atual para todos os dashboards até ctx acabar.
func (h *Hub) Broadcast(ctx context.Context) {
	interval := h.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := h.backend.Status()
			msg := Message{Type: TypeStatusUpdate, Status: &st}

			h.mu.Lock()
			for client := range h.clients {
				if err := client.WriteJSON(msg); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) send(conn *websocket.Conn, msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return conn.WriteJSON(msg)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Falha no upgrade do websocket")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	h.log.Infof("Novo cliente web conectado: %s", conn.RemoteAddr())

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
		h.log.Infof("Cliente web desconectado: %s", conn.RemoteAddr())
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case TypeSwitch:
			start := time.Now()
			err := h.backend.RequestSwitch(r.Context())
			res := Message{Type: TypeSwitchResult, OK: err == nil, ElapsedMs: time.Since(start).Milliseconds()}
			if err != nil {
				res.Error = err.Error()
			}
			if err := h.send(conn, res); err != nil {
				return
			}
		case TypeVolume:
			err := h.setVolume(r.Context(), msg.Volume)
			res := Message{Type: TypeVolumeResult, OK: err == nil}
			if err != nil {
				res.Error = err.Error()
			}
			if err := h.send(conn, res); err != nil {
				return
			}
		case TypeShutdown:
			h.log.Info("Comando de desligamento recebido!")
			if h.shutdown != nil {
				h.shutdown()
			}
		default:
			h.log.WithField("type", msg.Type).Debug("Mensagem desconhecida ignorada")
		}
	}
}

func (h *Hub) setVolume(ctx context.Context, v *VolumeLevels) error {
	switch {
	case h.Volume == nil:
		return errors.New("web: controle de volume indisponível")
	case v == nil:
		return errors.New("web: comando volume sem níveis")
	}
	h.log.WithFields(logrus.Fields{"a2dp": v.A2DP, "hfp": v.HFP}).Info("Ajuste de volume pedido pelo dashboard")
	return h.Volume.SetVolume(ctx, v.A2DP, v.HFP)
}
