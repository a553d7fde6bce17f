package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zora-market/marketplace-core/internal/model"
	"github.com/zora-market/marketplace-core/pkg/logger"
)

const migrateLockID int64 = 20240601

// GormStoreOptions configures a GormStore.
type GormStoreOptions struct {
	AutoMigrate bool
	Publisher   Publisher
	Logger      *logger.Logger
}

// GormStoreOption mutates GormStoreOptions.
type GormStoreOption func(*GormStoreOptions)

// WithAutoMigrate toggles schema migration on open.
func WithAutoMigrate(enabled bool) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.AutoMigrate = enabled
	}
}

// WithPublisher forwards committed row changes to p.
func WithPublisher(p Publisher) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.Publisher = p
	}
}

// WithLogger sets the store logger.
func WithLogger(l *logger.Logger) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.Logger = l
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db        *gorm.DB
	publisher Publisher
	logger    *logger.Logger
}

var _ Store = (*GormStore)(nil)

// NewGormStore opens the DB and optionally runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{AutoMigrate: true}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global()
	}

	gormLog := gormlogger.New(
		zap.NewStdLog(opts.Logger.Logger),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if opts.AutoMigrate {
		if err := withMigrationLock(db, func(tx *gorm.DB) error {
			return tx.AutoMigrate(&VendorModel{}, &ProductModel{}, &ConversationModel{}, &MessageModel{})
		}); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	return &GormStore{db: db, publisher: opts.Publisher, logger: opts.Logger}, nil
}

// NewGormStoreFromDB wraps an already opened connection.
func NewGormStoreFromDB(db *gorm.DB, options ...GormStoreOption) *GormStore {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global()
	}
	return &GormStore{db: db, publisher: opts.Publisher, logger: opts.Logger}
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveVendor inserts or replaces a vendor.
func (s *GormStore) SaveVendor(ctx context.Context, v model.Vendor) error {
	m := vendorToModel(v)
	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return err
	}
	s.publish(ctx, model.TableVendors, model.EventUpdate, v, nil)
	return nil
}

// SaveProduct inserts or replaces a product.
func (s *GormStore) SaveProduct(ctx context.Context, p model.Product) error {
	m := productToModel(p)
	if err := s.db.WithContext(ctx).Save(&m).Error; err != nil {
		return err
	}
	s.publish(ctx, model.TableProducts, model.EventUpdate, p, nil)
	return nil
}

// ListVendors returns all vendors.
func (s *GormStore) ListVendors(ctx context.Context) ([]model.Vendor, error) {
	var models []VendorModel
	if err := s.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]model.Vendor, 0, len(models))
	for _, m := range models {
		out = append(out, vendorFromModel(m))
	}
	return out, nil
}

// ListProducts returns all products.
func (s *GormStore) ListProducts(ctx context.Context) ([]model.Product, error) {
	var models []ProductModel
	if err := s.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]model.Product, 0, len(models))
	for _, m := range models {
		out = append(out, productFromModel(m))
	}
	return out, nil
}

// ListConversations returns one page of the user's vendor conversations with vendor summaries.
func (s *GormStore) ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error) {
	q := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("conversation_type = ? OR conversation_type IS NULL", string(model.ConversationTypeVendor)).
		Order("last_message_at DESC").
		Order("id").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}

	var models []ConversationModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}

	vendorIDs := make([]string, 0, len(models))
	for _, m := range models {
		if m.VendorID != nil {
			vendorIDs = append(vendorIDs, *m.VendorID)
		}
	}
	vendors := make(map[string]VendorModel, len(vendorIDs))
	if len(vendorIDs) > 0 {
		var vms []VendorModel
		if err := s.db.WithContext(ctx).Where("id IN ?", vendorIDs).Find(&vms).Error; err != nil {
			return nil, err
		}
		for _, vm := range vms {
			vendors[vm.ID] = vm
		}
	}

	convs := make([]model.Conversation, 0, len(models))
	for _, m := range models {
		conv := conversationFromModel(m)
		if m.VendorID != nil {
			if vm, ok := vendors[*m.VendorID]; ok {
				conv.Vendor = vendorFromModel(vm).Summary()
			}
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// GetConversation retrieves a conversation by ID.
func (s *GormStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var m ConversationModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	conv := conversationFromModel(m)
	return &conv, nil
}

// GetOrCreateVendorConversation returns the (user, vendor) conversation, creating it if needed.
func (s *GormStore) GetOrCreateVendorConversation(ctx context.Context, userID, vendorID string) (*model.Conversation, error) {
	if userID == "" || vendorID == "" {
		return nil, ErrInvalidConversation
	}
	return s.getOrCreate(ctx, userID, model.ConversationTypeVendor, &vendorID, nil, "vendor_id = ?", vendorID)
}

// GetOrCreateSupportConversation returns the (user, order) support conversation, creating it if needed.
func (s *GormStore) GetOrCreateSupportConversation(ctx context.Context, userID, orderID string) (*model.Conversation, error) {
	if userID == "" || orderID == "" {
		return nil, ErrInvalidConversation
	}
	return s.getOrCreate(ctx, userID, model.ConversationTypeSupport, nil, &orderID, "order_id = ? AND conversation_type = ?", orderID, string(model.ConversationTypeSupport))
}

func (s *GormStore) getOrCreate(ctx context.Context, userID string, kind model.ConversationType, vendorID, orderID *string, cond string, args ...any) (*model.Conversation, error) {
	now := time.Now().UTC()
	typ := string(kind)
	candidate := ConversationModel{
		ID:               uuid.Must(uuid.NewV7()).String(),
		UserID:           userID,
		VendorID:         vendorID,
		OrderID:          orderID,
		ConversationType: &typ,
		LastMessageAt:    now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var (
		stored  ConversationModel
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&candidate)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected == 1
		return tx.Where("user_id = ?", userID).Where(cond, args...).First(&stored).Error
	})
	if err != nil {
		return nil, fmt.Errorf("get or create conversation: %w", err)
	}

	conv := conversationFromModel(stored)
	if created {
		s.publish(ctx, model.TableConversations, model.EventInsert, conv, nil)
	}
	return &conv, nil
}

// DeleteConversation removes a conversation owned by userID and its messages.
func (s *GormStore) DeleteConversation(ctx context.Context, id, userID string) (bool, error) {
	var (
		conv    ConversationModel
		removed []MessageModel
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&conv, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
			}
			return err
		}
		if conv.UserID != userID {
			return fmt.Errorf("conversation %s: %w", id, ErrForbidden)
		}
		if err := tx.Where("conversation_id = ?", id).Find(&removed).Error; err != nil {
			return err
		}
		if err := tx.Delete(&MessageModel{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ConversationModel{}, "id = ?", id).Error
	})
	if err != nil {
		return false, err
	}

	for _, m := range removed {
		s.publish(ctx, model.TableMessages, model.EventDelete, nil, messageFromModel(m))
	}
	s.publish(ctx, model.TableConversations, model.EventDelete, nil, conversationFromModel(conv))
	return true, nil
}

// UnreadCount sums the user's unread counters.
func (s *GormStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&ConversationModel{}).
		Select("COALESCE(SUM(unread_count_user), 0)").
		Where("user_id = ?", userID).
		Row().Scan(&total); err != nil {
		return 0, err
	}
	return int(total), nil
}

// ListMessages returns one page of a conversation's messages, oldest first.
func (s *GormStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	q := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id").
		Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}

	var models []MessageModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]model.Message, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, messageFromModel(m))
	}
	return msgs, nil
}

// InsertMessage stores a message and updates its conversation in one transaction.
func (s *GormStore) InsertMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if msg == nil {
		return nil, fmt.Errorf("message is nil")
	}
	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.Must(uuid.NewV7()).String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.ReadAt = nil
	stored.Status = model.MessageSent

	counter := "unread_count_user"
	if stored.SenderType == model.SenderUser {
		counter = "unread_count_vendor"
	}

	var conv ConversationModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&conv, "id = ?", stored.ConversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("conversation %s: %w", stored.ConversationID, ErrNotFound)
			}
			return err
		}
		m := messageToModel(stored)
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		if err := tx.Model(&ConversationModel{}).Where("id = ?", conv.ID).Updates(map[string]any{
			"last_message_at":   gorm.Expr("GREATEST(last_message_at, ?)", stored.CreatedAt),
			"last_message_text": stored.Text,
			counter:             gorm.Expr(counter+" + 1"),
			"updated_at":        stored.CreatedAt,
		}).Error; err != nil {
			return err
		}
		return tx.First(&conv, "id = ?", conv.ID).Error
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, model.TableMessages, model.EventInsert, stored, nil)
	s.publish(ctx, model.TableConversations, model.EventUpdate, conversationFromModel(conv), nil)
	return &stored, nil
}

// MarkRead stamps ReadAt on the other party's unread messages and clears the reader's counter.
func (s *GormStore) MarkRead(ctx context.Context, conversationID string, reader model.SenderType) (int, error) {
	senderCond, senderArg := "sender_type = ?", string(model.SenderUser)
	counter := "unread_count_vendor"
	if reader == model.SenderUser {
		senderCond = "sender_type <> ?"
		counter = "unread_count_user"
	}

	// Postgres keeps microseconds; truncating lets the stamped rows be found again.
	now := time.Now().UTC().Truncate(time.Microsecond)
	var (
		conv    ConversationModel
		changed []MessageModel
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&conv, "id = ?", conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
			}
			return err
		}
		res := tx.Model(&MessageModel{}).
			Where("conversation_id = ? AND read_at IS NULL", conversationID).
			Where(senderCond, senderArg).
			Update("read_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			if err := tx.Where("conversation_id = ? AND read_at = ?", conversationID, now).Find(&changed).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&ConversationModel{}).Where("id = ?", conversationID).Update(counter, 0).Error; err != nil {
			return err
		}
		return tx.First(&conv, "id = ?", conversationID).Error
	})
	if err != nil {
		return 0, err
	}

	for _, m := range changed {
		s.publish(ctx, model.TableMessages, model.EventUpdate, messageFromModel(m), nil)
	}
	s.publish(ctx, model.TableConversations, model.EventUpdate, conversationFromModel(conv), nil)
	return len(changed), nil
}

func (s *GormStore) publish(ctx context.Context, table model.Table, kind model.EventKind, newRow, oldRow any) {
	if s.publisher == nil {
		return
	}
	ev, err := model.NewChangeEvent(table, kind, newRow, oldRow)
	if err != nil {
		s.logger.Error("failed to build change event", zap.String("table", string(table)), zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish change",
			zap.String("table", string(table)),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}
