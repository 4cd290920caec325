// Package ble contém a parte Bluetooth Low Energy (BLE) do fone: o servidor GATT
// com os serviços de fast pair e OTA, e as funções de cliente usadas pelo inspetor.
package ble

import (
	"strings"

	"github.com/go-ble/ble"
)

// --- CONSTANTES E UUIDs BLE ---

// FastPairServiceUUID16 é o UUID de 16 bits do serviço de fast pair.
const FastPairServiceUUID16 = 0xFE2C

var (
	// Serviços
	FastPairSvcUUID = ble.UUID16(FastPairServiceUUID16)
	OTASvcUUID      = ble.MustParse("ae5d1e47-5c13-43a0-8635-82ad38a1381f") // Serviço de atualização de firmware

	// Características do fast pair
	KeyBasedPairingCharUUID = ble.MustParse("fe2c1234-8366-4814-8eb0-01de32100bea")
	PasskeyCharUUID         = ble.MustParse("fe2c1235-8366-4814-8eb0-01de32100bea")
	AccountKeyCharUUID      = ble.MustParse("fe2c1236-8366-4814-8eb0-01de32100bea")

	// Características do OTA
	OTAControlPointCharUUID = ble.MustParse("a3dd50bf-f7a7-4e99-838e-570a086c661b")
	OTADataCharUUID         = ble.MustParse("a2e86c7a-d961-4091-b74f-2409e72efe26")
)

// FindCharacteristic procura uma característica pelo UUID dentro de um perfil BLE.
func FindCharacteristic(p *ble.Profile, u ble.UUID) *ble.Characteristic {
	for _, s := range p.Services {
		for _, c := range s.Characteristics {
			if c.UUID.Equal(u) {
				return c
			}
		}
	}
	return nil
}

// normalizeAddr deixa um MAC comparável com Addr().String().
func normalizeAddr(mac string) string {
	return strings.ToLower(strings.TrimSpace(mac))
}
