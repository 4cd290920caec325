package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"earbud-framework/internal/web"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// stats resume os tempos de troca medidos.
type stats struct {
	N                   int
	Mean, Min, Max, Std float64
}

func summarize(samples []float64) stats {
	if len(samples) == 0 {
		return stats{}
	}
	s := stats{N: len(samples), Min: math.MaxFloat64}
	var sum float64
	for _, v := range samples {
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = sum / float64(len(samples))
	var varianceSum float64
	for _, v := range samples {
		varianceSum += math.Pow(v-s.Mean, 2)
	}
	s.Std = math.Sqrt(varianceSum / float64(len(samples)))
	return s
}

// dashboard é a conexão com o websocket de um fone.
type dashboard struct {
	url string
	ws  *websocket.Conn
}

func dial(ctx context.Context, url string) (*dashboard, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "conexão com %s", url)
	}
	return &dashboard{url: url, ws: ws}, nil
}

// requestSwitch pede uma troca e espera o resultado, descartando os statusUpdate no caminho.
func (d *dashboard) requestSwitch(timeout time.Duration) (web.Message, error) {
	d.ws.SetWriteDeadline(time.Now().Add(timeout))
	if err := d.ws.WriteJSON(web.Message{Type: web.TypeSwitch}); err != nil {
		return web.Message{}, errors.Wrap(err, "envio do comando")
	}
	d.ws.SetReadDeadline(time.Now().Add(timeout))
	for {
		var msg web.Message
		if err := d.ws.ReadJSON(&msg); err != nil {
			return web.Message{}, errors.Wrap(err, "leitura do resultado")
		}
		if msg.Type == web.TypeSwitchResult {
			return msg, nil
		}
	}
}

func main() {
	first := flag.String("a", "ws://localhost:8080/ws", "Dashboard do fone que começa como primário")
	second := flag.String("b", "", "Dashboard do outro fone (vazio: sempre pede ao primeiro)")
	count := flag.Int("n", 10, "Quantidade de trocas")
	pause := flag.Duration("pause", time.Second, "Intervalo entre trocas")
	timeout := flag.Duration("timeout", 10*time.Second, "Tempo máximo de cada troca")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	targets := []string{*first}
	if *second != "" {
		targets = append(targets, *second)
	}
	boards := make([]*dashboard, 0, len(targets))
	for _, url := range targets {
		d, err := dial(ctx, url)
		if err != nil {
			log.Fatal(err)
		}
		defer d.ws.Close()
		log.Infof("Conectado ao dashboard %s", url)
		boards = append(boards, d)
	}

	// O primário se alterna a cada troca bem sucedida.
	var samples []float64
	var failures int
	current := 0
	for i := 0; i < *count && ctx.Err() == nil; i++ {
		d := boards[current]
		res, err := d.requestSwitch(*timeout)
		switch {
		case err != nil:
			log.Fatalf("Dashboard %s: %v", d.url, err)
		case !res.OK:
			failures++
			log.Warnf("Troca %d em %s falhou: %s", i+1, d.url, res.Error)
		default:
			samples = append(samples, float64(res.ElapsedMs))
			fmt.Printf("\rTrocas concluídas: %d/%d", len(samples), *count)
			current = (current + 1) % len(boards)
		}

		select {
		case <-ctx.Done():
		case <-time.After(*pause):
		}
	}

	s := summarize(samples)
	fmt.Println("\n--- Relatório de Trocas de Papel ---")
	fmt.Println("-----------------------------------------")
	fmt.Printf("Trocas concluídas:  %d\n", s.N)
	fmt.Printf("Trocas com falha:   %d\n", failures)
	if s.N > 0 {
		fmt.Printf("Tempo médio:        %.2f ms\n", s.Mean)
		fmt.Printf("Tempo mínimo:       %.2f ms\n", s.Min)
		fmt.Printf("Tempo máximo:       %.2f ms\n", s.Max)
		fmt.Printf("Desvio padrão:      %.2f ms\n", s.Std)
	}
	fmt.Println("-----------------------------------------")
}
