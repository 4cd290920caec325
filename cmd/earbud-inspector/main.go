package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	earbudble "earbud-framework/pkg/ble"
	"earbud-framework/pkg/ota"

	"github.com/go-ble/ble"
	log "github.com/sirupsen/logrus"
)

func main() {
	macAddress := flag.String("mac", "", "Endereço MAC do fone a ser inspecionado")
	adapterID := flag.Int("adapter", 0, "ID do adaptador HCI a ser usado (ex: 0 para hci0)")
	discoverMode := flag.Bool("discover", false, "Apenas descobre e lista todos os serviços e características")
	scanMode := flag.Bool("scan", false, "Procura anúncios de fast pair e mostra o model id")
	otaCmd := flag.String("ota-cmd", "", "Comando em hex para escrever no control point de OTA (ex: 01)")
	flag.Parse()

	if *macAddress == "" && !*scanMode {
		log.Error("O argumento --mac é obrigatório (exceto com --scan).")
		flag.Usage()
		os.Exit(1)
	}

	if _, err := earbudble.OpenDevice(*adapterID); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *scanMode {
		scan(ctx)
		return
	}

	fmt.Printf("Procurando por %s via hci%d...\n", *macAddress, *adapterID)
	client, err := earbudble.ConnectByAddr(ctx, *macAddress, 5*time.Second)
	if err != nil {
		log.Fatalf("Falha ao conectar: %s", err)
	}
	fmt.Println("Conectado ao fone!")
	defer client.CancelConnection()

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		log.Fatalf("Falha ao descobrir perfil: %s", err)
	}

	if *discoverMode {
		printProfile(profile)
		return
	}

	if *otaCmd != "" {
		cmd, err := hex.DecodeString(*otaCmd)
		if err != nil {
			log.Fatalf("Comando de OTA inválido: %s", err)
		}
		if err := earbudble.SendOTACommand(client, profile, cmd); err != nil {
			log.Fatalf("Falha ao enviar comando de OTA: %s", err)
		}
		fmt.Printf(">> Comando 0x%s enviado ao control point\n", *otaCmd)
	}

	st, err := earbudble.ReadOTAStatus(client, profile)
	if err != nil {
		log.Fatalf("Falha ao ler status de OTA: %s", err)
	}
	fmt.Printf("Último status de OTA: %d (%s)\n", st, statusName(st))
}

// scan lista os fones anunciando fast pair até o contexto acabar.
func scan(ctx context.Context) {
	fmt.Println("Procurando anúncios de fast pair (Ctrl+C para sair)...")
	seen := make(map[string]uint32)
	err := ble.Scan(ctx, true, func(a ble.Advertisement) {
		id, ok := earbudble.FastPairModelID(a.ServiceData())
		if !ok {
			return
		}
		addr := a.Addr().String()
		if prev, dup := seen[addr]; dup && prev == id {
			return
		}
		seen[addr] = id
		fmt.Printf("  %s  model id 0x%06x  rssi %d\n", addr, id, a.RSSI())
	}, nil)
	if err != nil && ctx.Err() == nil {
		log.Errorf("Varredura terminada: %s", err)
	}
}

func printProfile(p *ble.Profile) {
	fmt.Println("-----------------------------------------")
	for _, s := range p.Services {
		fmt.Printf("Serviço: %s (%s)\n", s.UUID, serviceName(s.UUID))
		for _, c := range s.Characteristics {
			fmt.Printf("  - Característica: %s (%s), Propriedades: %v\n", c.UUID, charName(c.UUID), c.Property)
		}
	}
	fmt.Println("-----------------------------------------")
}

func serviceName(u ble.UUID) string {
	switch {
	case u.Equal(earbudble.FastPairSvcUUID):
		return "Fast Pair"
	case u.Equal(earbudble.OTASvcUUID):
		return "OTA"
	}
	return ble.Name(u)
}

func charName(u ble.UUID) string {
	switch {
	case u.Equal(earbudble.KeyBasedPairingCharUUID):
		return "Key-based Pairing"
	case u.Equal(earbudble.PasskeyCharUUID):
		return "Passkey"
	case u.Equal(earbudble.AccountKeyCharUUID):
		return "Account Key"
	case u.Equal(earbudble.OTAControlPointCharUUID):
		return "OTA Control Point"
	case u.Equal(earbudble.OTADataCharUUID):
		return "OTA Data"
	}
	return ble.Name(u)
}

func statusName(s ota.Status) string {
	switch s {
	case ota.StatusOK:
		return "ok"
	case ota.StatusUnsupported:
		return "não suportado"
	case ota.StatusIllegalState:
		return "estado ilegal"
	case ota.StatusVerificationFailed:
		return "verificação falhou"
	case ota.StatusInvalidImage:
		return "imagem inválida"
	case ota.StatusInvalidImageSize:
		return "tamanho inválido"
	}
	return "desconhecido"
}
