package rooms

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opStoreNew            = "rooms.store.new"
	opEnsure              = "rooms.ensure"
	opGet                 = "rooms.get"
	opSet                 = "rooms.set"
	opDelete              = "rooms.delete"
	opIDs                 = "rooms.ids"
	fieldRoomID           = "room_id"
	columnRoomID          = "room_id"
	columnDocument        = "document"
	columnUpdatedAt       = "updated_at_s"
	queryRoomID           = fieldRoomID + " = ?"
	orderRoomIDAsc        = columnRoomID + " ASC"
	reasonMissingDatabase = "missing_database"
	reasonInsertFailed    = "insert_failed"
	reasonQueryFailed     = "query_failed"
	reasonUpsertFailed    = "upsert_failed"
	reasonDeleteFailed    = "delete_failed"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// SQLiteStoreConfig describes the dependencies of a SQLiteStore.
type SQLiteStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// SQLiteStore keeps room documents in the room_documents table.
type SQLiteStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewSQLiteStore validates the configuration and returns a SQLiteStore.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &SQLiteStore{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

func (s *SQLiteStore) Ensure(ctx context.Context, id RoomID) (string, error) {
	model := RoomDocument{
		RoomID:    id.String(),
		Document:  Placeholder(id),
		UpdatedAt: s.clock().UTC().Unix(),
	}

	var stored RoomDocument
	transactionError := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		if err := transaction.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
			s.logError(opEnsure, reasonInsertFailed, err, zap.String(fieldRoomID, id.String()))
			return newStoreError(opEnsure, reasonInsertFailed, err)
		}
		if err := transaction.Where(queryRoomID, id.String()).Take(&stored).Error; err != nil {
			s.logError(opEnsure, reasonQueryFailed, err, zap.String(fieldRoomID, id.String()))
			return newStoreError(opEnsure, reasonQueryFailed, err)
		}
		return nil
	})
	if transactionError != nil {
		return "", transactionError
	}
	return stored.Document, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id RoomID) (string, bool, error) {
	var stored RoomDocument
	err := s.db.WithContext(ctx).Where(queryRoomID, id.String()).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		s.logError(opGet, reasonQueryFailed, err, zap.String(fieldRoomID, id.String()))
		return "", false, newStoreError(opGet, reasonQueryFailed, err)
	}
	return stored.Document, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, id RoomID, document string) error {
	model := RoomDocument{
		RoomID:    id.String(),
		Document:  document,
		UpdatedAt: s.clock().UTC().Unix(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: columnRoomID}},
		DoUpdates: clause.AssignmentColumns([]string{columnDocument, columnUpdatedAt}),
	}).Create(&model).Error
	if err != nil {
		s.logError(opSet, reasonUpsertFailed, err, zap.String(fieldRoomID, id.String()))
		return newStoreError(opSet, reasonUpsertFailed, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id RoomID) error {
	if err := s.db.WithContext(ctx).Where(queryRoomID, id.String()).Delete(&RoomDocument{}).Error; err != nil {
		s.logError(opDelete, reasonDeleteFailed, err, zap.String(fieldRoomID, id.String()))
		return newStoreError(opDelete, reasonDeleteFailed, err)
	}
	return nil
}

func (s *SQLiteStore) IDs(ctx context.Context) ([]RoomID, error) {
	var identifiers []string
	if err := s.db.WithContext(ctx).
		Model(&RoomDocument{}).
		Order(orderRoomIDAsc).
		Pluck(columnRoomID, &identifiers).Error; err != nil {
		s.logError(opIDs, reasonQueryFailed, err)
		return nil, newStoreError(opIDs, reasonQueryFailed, err)
	}
	ids := make([]RoomID, 0, len(identifiers))
	for _, identifier := range identifiers {
		ids = append(ids, RoomID(identifier))
	}
	return ids, nil
}

func (s *SQLiteStore) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("room store error", attrs...)
}
