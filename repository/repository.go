package repository

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"github.com/stitchbot/stitchbot/db"
	"github.com/stitchbot/stitchbot/models"
)

const stitchPrefix = "stitch:"

// ErrNotFound is returned when no stitch record has the requested id.
var ErrNotFound = errors.New("stitch record not found")

// It abstracts the stitch ledger from the agent and the HTTP handlers
type StitchRepositoryInterface interface {
	PutStitch(rec *models.StitchRecord) error
	GetStitch(id string) (*models.StitchRecord, error)
	GetAllStitches() ([]*models.StitchRecord, error)
}

// StitchRepository implements the StitchRepositoryInterface using LevelDB as the storage backend
type StitchRepository struct {
	db *db.LevelDB
}

// NewStitchRepository creates and returns a new StitchRepository instance
func NewStitchRepository(db *db.LevelDB) *StitchRepository {
	return &StitchRepository{db: db}
}

// PutStitch stores or replaces a stitch record
func (r *StitchRepository) PutStitch(rec *models.StitchRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.db.Put([]byte(stitchPrefix+rec.ID), data)
}

// GetStitch retrieves a stitch record by its ID
func (r *StitchRepository) GetStitch(id string) (*models.StitchRecord, error) {
	data, err := r.db.Get([]byte(stitchPrefix + id))
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec models.StitchRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetAllStitches retrieves every stitch record, newest first
func (r *StitchRepository) GetAllStitches() ([]*models.StitchRecord, error) {
	iter := r.db.NewPrefixIterator([]byte(stitchPrefix))
	defer iter.Release()

	var recs []*models.StitchRecord
	for iter.Next() {
		var rec models.StitchRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt > recs[j].CreatedAt })
	return recs, nil
}
