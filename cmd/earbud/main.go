package main

import (
	"context"
	"crypto/rand"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"earbud-framework/internal/web"
	"earbud-framework/pkg/audio"
	"earbud-framework/pkg/ble"
	"earbud-framework/pkg/config"
	"earbud-framework/pkg/database"
	"earbud-framework/pkg/device"
	"earbud-framework/pkg/fastpair"
	"earbud-framework/pkg/ota"
	"earbud-framework/pkg/peerlink"
	"earbud-framework/pkg/switchsync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// nvram é o que o fone precisa do armazenamento persistente.
type nvram interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Put(ctx context.Context, id string, data []byte) error
	LocalIRK(ctx context.Context) ([]byte, error)
	UpdateLocalIRK(ctx context.Context, key []byte) error
}

func main() {
	cfgPath := flag.String("config", config.DefaultPath, "arquivo de configuração (JSON ou YAML)")
	flag.Parse()

	// 1. Carrega as configurações.
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Erro ao carregar %s: %v", *cfgPath, err)
	}
	level, _ := log.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	log.Infof("Iniciando fone '%s' como %s...", cfg.DeviceName, cfg.InitialRole())

	// 2. Contexto cancelado por Ctrl+C ou pelo comando "shutdown" do dashboard.
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	// 3. NVRAM: MongoDB quando configurado, memória caso contrário.
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Erro ao abrir a NVRAM: %v", err)
	}
	defer closeStore()

	// 4. Participantes, na ordem das tags.
	var orch *device.Orchestrator
	role := func() switchsync.Role { return orch.Role() }

	volume := audio.NewVolume(audio.MaxVolume/2, audio.MaxVolume/2)
	participants := []switchsync.Participant{switchsync.ParticipantOf("volume", volume)}

	var upgrader *ota.Upgrader
	if cfg.OTA {
		upgrader = ota.NewUpgrader()
		participants = append(participants, switchsync.ParticipantOf("ota", upgrader))
	}
	// Rampas de volume pedidas pelo dashboard seguram a troca pelo portão de efeito.
	ramp := audio.Ramp{Volume: volume, Step: audio.DefaultRampStep}
	if cfg.VolumeEffect {
		ramp.Gate = &audio.EffectGate{}
		participants = append(participants, switchsync.ParticipantOf("volume effect", ramp.Gate))
	}

	var provider *fastpair.MemoryProvider
	if cfg.FastPair {
		provider, err = newFastPair(ctx, store, cfg.AccountKeyNum)
		if err != nil {
			log.Fatalf("Erro ao preparar o fast pair: %v", err)
		}
		controller, err := newController(ctx, store)
		if err != nil {
			log.Fatalf("Erro ao preparar a chave de identidade: %v", err)
		}
		fp := fastpair.NewParticipant(provider, controller, store, role, cfg.AccountKeyNum)
		participants = append(participants, switchsync.ParticipantOf("fast pair", fp))
	}

	settings, err := device.NewSettings(cfg.DeviceName)
	if err != nil {
		log.Fatalf("Erro ao preparar as configurações do fone: %v", err)
	}
	participants = append(participants, switchsync.ParticipantOf("settings", settings))

	// 5. Coordenador e orquestrador.
	reg, err := switchsync.NewRegistry(participants...)
	if err != nil {
		log.Fatalf("Erro ao montar o registro: %v", err)
	}
	coord := switchsync.NewCoordinator(reg, switchsync.NewScratchBuffer(cfg.ScratchSize), switchsync.WithMaxBlobSize(cfg.MaxBlobSize))
	orch = device.NewOrchestrator(coord, cfg.InitialRole(), func(ctx context.Context) (device.Link, error) {
		if cfg.PeerURL == "" {
			return nil, errors.New("peer_url não configurado")
		}
		conn, err := peerlink.Dial(ctx, cfg.PeerURL)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
	orch.OnRoleChange = func(r switchsync.Role) {
		log.WithField("role", r).Info("Papel do fone alterado")
	}
	log.WithField("participants", reg.Names()).Info("Registro de troca montado")

	// 6. Goroutines principais.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return peerlink.NewServer(orch, cfg.MaxBlobSize).Run(gctx, cfg.PeerListenAddr, config.PeerPath)
	})
	g.Go(func() error {
		hub := web.NewHub(orch, cancel)
		hub.Volume = ramp
		return hub.Run(gctx, cfg.DashboardAddr)
	})
	if services := ble.NewServices(fastPairHandler(provider), upgrader); len(services) > 0 {
		g.Go(func() error {
			var discoverable func() bool
			if provider != nil {
				discoverable = func() bool { return orch.Role() == switchsync.RolePrimary && provider.Discoverable() }
			}
			return ble.ServerRoutine(gctx, cfg, services, discoverable)
		})
	}

	log.Infof("Aplicação rodando. Acesse http://localhost%s para ver o dashboard.", cfg.DashboardAddr)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Aplicação encerrada com erro: %v", err)
		os.Exit(1)
	}
	log.Info("Aplicação encerrada.")
}

// fastPairHandler evita passar um *MemoryProvider nulo dentro da interface.
func fastPairHandler(p *fastpair.MemoryProvider) ble.FastPairHandler {
	if p == nil {
		return nil
	}
	return p
}

func openStore(ctx context.Context, cfg *config.AppConfig) (nvram, func(), error) {
	if cfg.MongoURI == "" {
		log.Warn("mongo_uri vazio: NVRAM em memória, nada sobrevive ao reinício")
		return database.NewMemStore(), func() {}, nil
	}
	store, err := database.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.WithError(err).Warn("Erro ao fechar o MongoDB")
		}
	}, nil
}

// newFastPair restaura as account keys gravadas e passa a gravar cada mudança.
func newFastPair(ctx context.Context, store nvram, keyNum int) (*fastpair.MemoryProvider, error) {
	provider := fastpair.NewMemoryProvider(keyNum)
	b, err := store.Get(ctx, database.IDAccountKeys)
	switch {
	case database.IsNotFound(err):
	case err != nil:
		return nil, err
	default:
		keys, err := fastpair.DecodeAccountKeys(b)
		if err != nil {
			return nil, err
		}
		if err := provider.UpdateAccountKeys(keys); err != nil {
			return nil, err
		}
		log.WithField("keys", len(keys)).Info("Account keys restauradas")
	}

	provider.SetDiscoverable(true)
	provider.OnChange = func(keys []fastpair.AccountKey) {
		putCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Put(putCtx, database.IDAccountKeys, fastpair.EncodeAccountKeys(keys)); err != nil {
			log.WithError(err).Error("Falha ao gravar account keys")
		}
	}
	return provider, nil
}

// newController carrega (ou gera na primeira execução) a chave de identidade local
// e um endereço privado resolvível.
func newController(ctx context.Context, store nvram) (*fastpair.MemoryController, error) {
	irk, err := store.LocalIRK(ctx)
	if database.IsNotFound(err) {
		irk = make([]byte, fastpair.LocalKeyDataLen)
		if _, err := rand.Read(irk); err != nil {
			return nil, err
		}
		if err := store.UpdateLocalIRK(ctx, irk); err != nil {
			return nil, err
		}
		log.Info("Chave de identidade local gerada")
	} else if err != nil {
		return nil, err
	}

	var rpa fastpair.Addr
	if _, err := rand.Read(rpa[:]); err != nil {
		return nil, err
	}
	rpa[fastpair.AddrLen-1] = rpa[fastpair.AddrLen-1]&0x3f | 0x40

	c := fastpair.NewMemoryController(rpa)
	if err := c.SetLocalIdentityKey(irk); err != nil {
		return nil, err
	}
	return c, nil
}
