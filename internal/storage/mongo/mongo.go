// Package mongostorage records runs as MongoDB documents with batched inserts.
package mongostorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetsim/fleetctl/internal/config"
	"github.com/fleetsim/fleetctl/pkg/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const opTimeout = 10 * time.Second

// Collection names.
const (
	CollectionRuns      = "runs"
	CollectionVehicles  = "vehicles"
	CollectionTelemetry = "telemetry"
	CollectionEvents    = "events"
)

// Collection is the subset of *mongo.Collection the backend uses.
type Collection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// Collections holds one collection per document kind.
type Collections struct {
	Runs      Collection
	Vehicles  Collection
	Telemetry Collection
	Events    Collection
}

type runDoc struct {
	ID         primitive.ObjectID `bson:"_id"`
	Name       string             `bson:"name"`
	Seed       int64              `bson:"seed"`
	FleetSize  int                `bson:"fleetSize"`
	Horizon    int                `bson:"horizon"`
	StepLength float64            `bson:"stepLength"`
	Engine     string             `bson:"engine"`
	StartTime  time.Time          `bson:"startTime"`
	Config     string             `bson:"config,omitempty"`
}

type vehicleDoc struct {
	RunID     primitive.ObjectID `bson:"runId"`
	VehicleID string             `bson:"vehicleId"`
	Class     string             `bson:"class"`
	SpawnTick int                `bson:"spawnTick"`
}

type positionDoc struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"`
}

type telemetryDoc struct {
	RunID             primitive.ObjectID `bson:"runId"`
	VehicleID         string             `bson:"vehicleId"`
	Time              float64            `bson:"time"`
	SpeedKmh          float64            `bson:"speedKmh"`
	Road              string             `bson:"road"`
	Distance          float64            `bson:"distance"`
	Destination       string             `bson:"destination"`
	DistanceRemaining float64            `bson:"distanceRemaining"`
	Class             string             `bson:"class"`
	SoC               float64            `bson:"soc"`
	Consumption       float64            `bson:"consumption"`
	ColorBucket       int                `bson:"colorBucket"`
	Position          *positionDoc       `bson:"position,omitempty"` // GeoJSON point
}

type eventDoc struct {
	RunID      primitive.ObjectID `bson:"runId"`
	Type       string             `bson:"type"` // "facility" or "lifecycle"
	Time       float64            `bson:"time"`
	VehicleID  string             `bson:"vehicleId"`
	Kind       string             `bson:"kind"`
	FacilityID string             `bson:"facilityId,omitempty"`
	Detail     string             `bson:"detail,omitempty"`
}

// batch buffers documents for one collection.
type batch struct {
	coll Collection
	docs []interface{}
}

// Backend implements storage.Backend with MongoDB.
type Backend struct {
	cfg    config.MongoConfig
	log    *slog.Logger
	client *mongo.Client
	colls  Collections

	mu        sync.Mutex
	runID     primitive.ObjectID
	vehicles  batch
	telemetry batch
	events    batch
}

// New creates a backend that connects on Init.
func New(cfg config.MongoConfig, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Backend{cfg: cfg, log: logger}
}

// NewWithCollections creates a backend writing to the given collections.
func NewWithCollections(colls Collections, batchSize int, logger *slog.Logger) *Backend {
	b := New(config.MongoConfig{BatchSize: batchSize}, logger)
	b.setCollections(colls)
	return b
}

func (b *Backend) setCollections(colls Collections) {
	b.colls = colls
	b.vehicles = batch{coll: colls.Vehicles}
	b.telemetry = batch{coll: colls.Telemetry}
	b.events = batch{coll: colls.Events}
}

// Init connects to MongoDB unless collections were injected.
func (b *Backend) Init() error {
	if b.colls.Runs != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(b.cfg.URI))
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("mongo ping: %w", err)
	}
	b.client = client

	db := client.Database(b.cfg.Database)
	b.setCollections(Collections{
		Runs:      db.Collection(CollectionRuns),
		Vehicles:  db.Collection(CollectionVehicles),
		Telemetry: db.Collection(CollectionTelemetry),
		Events:    db.Collection(CollectionEvents),
	})
	b.log.Info("Connected to MongoDB", "database", b.cfg.Database)
	return nil
}

// Close flushes buffered documents and disconnects.
func (b *Backend) Close() error {
	b.mu.Lock()
	err := b.flushAll()
	b.mu.Unlock()

	if b.client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		err = errors.Join(err, b.client.Disconnect(ctx))
		b.client = nil
	}
	return err
}

func (b *Backend) StartRun(run *core.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.runID = primitive.NewObjectID()
	doc := runDoc{
		ID:         b.runID,
		Name:       run.Name,
		Seed:       run.Seed,
		FleetSize:  run.FleetSize,
		Horizon:    run.Horizon,
		StepLength: run.StepLength,
		Engine:     run.Engine,
		StartTime:  run.StartTime,
		Config:     string(run.Config),
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if _, err := b.colls.Runs.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// EndRun flushes buffered documents and stores the summary on the run.
func (b *Backend) EndRun(s core.RunSummary) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.flushAll()
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, uerr := b.colls.Runs.UpdateOne(ctx, bson.M{"_id": b.runID}, bson.M{"$set": bson.M{
		"endTime":       s.EndTime,
		"finalTick":     s.FinalTick,
		"spawned":       s.Spawned,
		"skipped":       s.Skipped,
		"diverted":      s.Diverted,
		"returned":      s.Returned,
		"telemetryRows": s.TelemetryN,
		"stopReason":    s.StopReason,
		"fatalReason":   s.FatalReason,
	}})
	if uerr != nil {
		uerr = fmt.Errorf("update run: %w", uerr)
	}
	return errors.Join(err, uerr)
}

func (b *Backend) AddVehicle(v core.Vehicle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.push(&b.vehicles, vehicleDoc{RunID: b.runID, VehicleID: v.ID, Class: v.Class, SpawnTick: v.SpawnTick})
}

func (b *Backend) RecordTelemetry(row core.TelemetryRow) error {
	doc := telemetryDoc{
		VehicleID:         row.VehicleID,
		Time:              row.Time,
		SpeedKmh:          row.SpeedKmh,
		Road:              row.Road,
		Distance:          row.Distance,
		Destination:       row.Destination,
		DistanceRemaining: row.DistanceRemaining,
		Class:             row.Class,
		SoC:               row.SoC,
		Consumption:       row.Consumption,
		ColorBucket:       row.ColorBucket,
	}
	if row.Position != nil {
		doc.Position = &positionDoc{Type: "Point", Coordinates: []float64{row.Position.Lon, row.Position.Lat}}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	doc.RunID = b.runID
	return b.push(&b.telemetry, doc)
}

func (b *Backend) RecordFacilityEvent(e core.FacilityEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.push(&b.events, eventDoc{
		RunID: b.runID, Type: "facility", Time: e.Time, VehicleID: e.VehicleID,
		Kind: string(e.Kind), FacilityID: e.FacilityID,
	})
}

func (b *Backend) RecordLifecycleEvent(e core.LifecycleEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.push(&b.events, eventDoc{
		RunID: b.runID, Type: "lifecycle", Time: e.Time, VehicleID: e.VehicleID,
		Kind: string(e.Kind), Detail: e.Detail,
	})
}

// QueueLengths reports buffered documents per collection.
func (b *Backend) QueueLengths() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]int{
		CollectionVehicles:  len(b.vehicles.docs),
		CollectionTelemetry: len(b.telemetry.docs),
		CollectionEvents:    len(b.events.docs),
	}
}

// push buffers doc and flushes the batch once it is full. Caller holds mu.
func (b *Backend) push(bt *batch, doc interface{}) error {
	bt.docs = append(bt.docs, doc)
	if len(bt.docs) < b.cfg.BatchSize {
		return nil
	}
	return b.flush(bt)
}

// flush inserts the buffered documents. A failed batch stays buffered.
func (b *Backend) flush(bt *batch) error {
	if len(bt.docs) == 0 || bt.coll == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if _, err := bt.coll.InsertMany(ctx, bt.docs); err != nil {
		b.log.Error("Error inserting documents", "error", err, "count", len(bt.docs))
		return fmt.Errorf("insert documents: %w", err)
	}
	bt.docs = nil
	return nil
}

func (b *Backend) flushAll() error {
	return errors.Join(b.flush(&b.vehicles), b.flush(&b.telemetry), b.flush(&b.events))
}
