// Package database guarda os registros de NVRAM do fone (chave de identidade local,
// lista de account keys) no MongoDB, com uma versão em memória para testes e bancada.
package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Identificadores dos registros de NVRAM.
const (
	IDLocalIRK     = "local_irk"
	IDAccountKeys  = "gfps_account_keys"
	collectionName = "nvram"
)

// ErrNotFound indica que o registro nunca foi gravado.
var ErrNotFound = errors.New("database: record not found")

// IsNotFound informa se err é ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

type record struct {
	ID        string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Store é a NVRAM persistida numa coleção do MongoDB, um documento por registro.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    *logrus.Entry
}

// Connect abre a conexão com o MongoDB e testa com um ping.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	if uri == "" {
		return nil, errors.New("database: empty MongoDB URI")
	}
	log := logrus.WithField("component", "db")
	log.Info("conectando ao MongoDB...")

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "database: connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "database: ping")
	}

	log.Info("conectado ao MongoDB")
	return &Store{
		client: client,
		coll:   client.Database(dbName).Collection(collectionName),
		log:    log,
	}, nil
}

// Close encerra a conexão.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Get lê um registro.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	var rec record
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "database: read %s", id)
	}
	return rec.Data, nil
}

// Put grava (ou cria) um registro.
func (s *Store) Put(ctx context.Context, id string, data []byte) error {
	update := bson.M{"$set": bson.M{"data": data, "updated_at": time.Now().UTC()}}
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update, options.Update().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "database: write %s", id)
	}
	s.log.WithField("id", id).Debug("registro gravado")
	return nil
}

// LocalIRK lê a chave de identidade local.
func (s *Store) LocalIRK(ctx context.Context) ([]byte, error) { return s.Get(ctx, IDLocalIRK) }

// UpdateLocalIRK grava a chave de identidade local.
func (s *Store) UpdateLocalIRK(ctx context.Context, key []byte) error {
	return s.Put(ctx, IDLocalIRK, key)
}
