package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/virtualpainter/painter/internal/slogging"
)

// SQL drivers
const (
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
	DriverSQLServer = "sqlserver"
)

// SQLOptions configures a relational gateway
type SQLOptions struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	// SessionTTL hides sessions not updated for this long from
	// ListActiveSessions; zero lists every active row
	SessionTTL time.Duration
	Instrument bool
}

type sessionRow struct {
	SessionID        string `gorm:"primaryKey;size:128"`
	RoomID           string `gorm:"size:100"`
	CreatedBy        string `gorm:"size:100"`
	CanvasData       string
	DrawingLayerData string
	Active           bool `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time `gorm:"index"`
}

func (sessionRow) TableName() string { return "painter_sessions" }

type userRow struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"size:128;uniqueIndex:idx_painter_users_session_user"`
	UserName  string `gorm:"size:100;uniqueIndex:idx_painter_users_session_user"`
	RoomID    string `gorm:"size:100"`
	CreatedAt time.Time
}

func (userRow) TableName() string { return "painter_users" }

// SQLGateway stores sessions in a relational database through GORM
type SQLGateway struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLGateway opens the database, migrates the schema and pings it
func NewSQLGateway(ctx context.Context, opts SQLOptions) (*SQLGateway, error) {
	log := slogging.Get()
	if opts.DSN == "" {
		return nil, fmt.Errorf("sql dsn is required")
	}

	var dialector gorm.Dialector
	switch opts.Driver {
	case DriverSQLite:
		dialector = sqlite.Open(opts.DSN)
	case DriverPostgres:
		dialector = postgres.Open(opts.DSN)
	case DriverMySQL:
		dialector = mysql.Open(opts.DSN)
	case DriverSQLServer:
		dialector = sqlserver.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported sql driver: %s", opts.Driver)
	}
	log.Debug("Opening %s database for session persistence", opts.Driver)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  &gormLogger{log: log},
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm connection: %w", err)
	}

	if opts.Instrument {
		if err := db.Use(otelgorm.NewPlugin()); err != nil {
			return nil, fmt.Errorf("failed to instrument gorm: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(4 * time.Minute)
	sqlDB.SetConnMaxIdleTime(30 * time.Second)

	g := &SQLGateway{db: db, ttl: opts.SessionTTL, now: time.Now}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := g.Ping(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&sessionRow{}, &userRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto-migration failed: %w", err)
	}
	log.Debug("SQL persistence ready (%s)", opts.Driver)

	return g, nil
}

// Ping checks the database connection
func (g *SQLGateway) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (g *SQLGateway) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetSession implements Gateway
func (g *SQLGateway) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var row sessionRow
	err := g.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}

	rec, err := g.record(ctx, row)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateUser implements Gateway. The session row is created on first use;
// adding a user twice is not an error.
func (g *SQLGateway) CreateUser(ctx context.Context, userName, sessionID, roomID string) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session := sessionRow{SessionID: sessionID, RoomID: roomID, CreatedBy: userName, Active: true}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.Assignments(map[string]any{"active": true, "updated_at": g.now().UTC()}),
		}).Create(&session).Error; err != nil {
			return err
		}

		user := userRow{SessionID: sessionID, UserName: userName, RoomID: roomID}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&user).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create user %s in session %s: %w", userName, sessionID, err)
	}
	return nil
}

// UpdateCanvasState implements Gateway
func (g *SQLGateway) UpdateCanvasState(ctx context.Context, sessionID, imageDataURL string, isDrawingLayer bool) error {
	row := sessionRow{SessionID: sessionID, Active: true}
	column := "canvas_data"
	if isDrawingLayer {
		row.DrawingLayerData = imageDataURL
		column = "drawing_layer_data"
	} else {
		row.CanvasData = imageDataURL
	}

	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{column, "active", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to update canvas of session %s: %w", sessionID, err)
	}
	return nil
}

// ListActiveSessions implements Gateway
func (g *SQLGateway) ListActiveSessions(ctx context.Context) ([]SessionRecord, error) {
	query := g.db.WithContext(ctx).Where("active = ?", true)
	if g.ttl > 0 {
		query = query.Where("updated_at > ?", g.now().UTC().Add(-g.ttl))
	}

	var rows []sessionRow
	if err := query.Order("session_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}

	records := make([]SessionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := g.record(ctx, row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// DeleteSession removes a session and its users
func (g *SQLGateway) DeleteSession(ctx context.Context, sessionID string) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&userRow{}).Error; err != nil {
			return err
		}
		return tx.Where("session_id = ?", sessionID).Delete(&sessionRow{}).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

func (g *SQLGateway) record(ctx context.Context, row sessionRow) (SessionRecord, error) {
	var users int64
	if err := g.db.WithContext(ctx).Model(&userRow{}).Where("session_id = ?", row.SessionID).Count(&users).Error; err != nil {
		return SessionRecord{}, fmt.Errorf("failed to count users of session %s: %w", row.SessionID, err)
	}
	return SessionRecord{
		SessionID:        row.SessionID,
		RoomID:           row.RoomID,
		CreatedBy:        row.CreatedBy,
		Participants:     int(users),
		CreatedAt:        row.CreatedAt.UTC(),
		CanvasData:       asPNGDataURL(nonEmpty(row.CanvasData)),
		DrawingLayerData: asPNGDataURL(nonEmpty(row.DrawingLayerData)),
	}, nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// gormLogger routes GORM output through slogging
type gormLogger struct {
	log *slogging.Logger
}

func (l *gormLogger) LogMode(logger.LogLevel) logger.Interface {
	return l
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...any) {
	l.log.Info(msg, data...)
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...any) {
	l.log.Warn(msg, data...)
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...any) {
	l.log.Error(msg, data...)
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		sql, rows := fc()
		l.log.Error("GORM query error: %v [%s] (%d rows, %s)", err, sql, rows, time.Since(begin))
		return
	}
	if l.log.Level() <= slogging.LogLevelDebug {
		sql, rows := fc()
		l.log.Debug("GORM query: %s (%d rows, %s)", sql, rows, time.Since(begin))
	}
}
