package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ccall48/lorawan-analyzer/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// Packet streams
	InsertPackets(ctx context.Context, packets []*models.ParsedPacket) error
	InsertCsPackets(ctx context.Context, packets []*models.CsPacket) error

	// Gateway metadata
	UpsertGateway(ctx context.Context, up *models.GatewayUpsert) (*models.Gateway, error)
	GetGateway(ctx context.Context, gatewayID string) (*models.Gateway, error)
	ListGateways(ctx context.Context) ([]*models.Gateway, error)
	UpdateGatewayMeta(ctx context.Context, gatewayID string, name, alias, group *string) error

	// ChirpStack device metadata
	UpsertCsDevice(ctx context.Context, up *models.CsDeviceUpsert) (*models.CsDevice, error)
	GetCsDevice(ctx context.Context, devEUI string) (*models.CsDevice, error)
	ListCsDevices(ctx context.Context, limit, offset int) ([]*models.CsDevice, int64, error)

	// Custom operators
	CreateCustomOperator(ctx context.Context, op *models.CustomOperator) error
	ListCustomOperators(ctx context.Context) ([]*models.CustomOperator, error)
	DeleteCustomOperator(ctx context.Context, id int64) error

	// Hide rules
	CreateHideRule(ctx context.Context, rule *models.HideRule) error
	ListHideRules(ctx context.Context) ([]*models.HideRule, error)
	DeleteHideRule(ctx context.Context, id int64) error

	// Packet reads
	RecentPackets(ctx context.Context, q PacketQuery) ([]*models.ParsedPacket, error)
	RecentCsPackets(ctx context.Context, devEUI string, limit int) ([]*models.CsPacket, error)
	RecentJoins(ctx context.Context, since time.Time, limit int) ([]*models.ParsedPacket, error)

	// Aggregated reads
	GatewayActivity(ctx context.Context, since time.Time, hide []models.HideRule) ([]*models.GatewayActivity, error)
	TimeSeries(ctx context.Context, q TimeSeriesQuery) ([]models.TimeSeriesPoint, error)
	ChannelDistribution(ctx context.Context, q DistributionQuery) ([]models.ChannelCount, error)
	SFDistribution(ctx context.Context, q DistributionQuery) ([]models.SFCount, error)
	DutyCycle(ctx context.Context, since time.Time, gatewayID string) ([]models.DutyCycle, error)

	// Per-device reads
	DeviceProfile(ctx context.Context, devAddr string, since time.Time) (*models.DeviceProfile, error)
	DeviceLoss(ctx context.Context, devAddr string, since time.Time) (*models.DeviceLoss, error)
	DeviceIntervals(ctx context.Context, devAddr string, since time.Time) (*models.DeviceIntervals, error)

	// Close the store
	Close() error
}

// PrefixFilter restricts DevAddrs to a prefix block, evaluated in SQL via
// dev_addr_uint32.
type PrefixFilter struct {
	Prefix uint32
	Mask   uint32
}

// PacketQuery is the parameter bag for RecentPackets. Zero values mean
// "not filtered"; an empty query selects the newest packets of any kind.
type PacketQuery struct {
	GatewayID string
	DevAddr   string
	DevEUI    string
	JoinEUI   string
	Operator  string
	Types     []models.PacketType
	Since     time.Time
	Until     time.Time
	RSSIMin   *int
	RSSIMax   *int
	Prefix    *PrefixFilter
	Hide      []models.HideRule
	Limit     int
	Offset    int
}

// TimeSeriesMetric selects what a time series measures.
type TimeSeriesMetric string

const (
	MetricPackets TimeSeriesMetric = "packets"
	MetricAirtime TimeSeriesMetric = "airtime"
)

// TimeSeriesGroup splits a series into labeled sub-series.
type TimeSeriesGroup string

const (
	GroupNone     TimeSeriesGroup = ""
	GroupGateway  TimeSeriesGroup = "gateway"
	GroupOperator TimeSeriesGroup = "operator"
	GroupType     TimeSeriesGroup = "type"
)

// TimeSeriesQuery parameterizes TimeSeries. Hour and day buckets without a
// device filter read the hourly aggregate; everything else reads raw rows.
type TimeSeriesQuery struct {
	Since     time.Time
	Until     time.Time
	Bucket    time.Duration
	Metric    TimeSeriesMetric
	GroupBy   TimeSeriesGroup
	GatewayID string
	DevAddr   string
}

// DistributionQuery parameterizes the channel and SF distributions.
type DistributionQuery struct {
	Since     time.Time
	GatewayID string
	DevAddr   string
}
