package testutil

import (
	"context"
	"database/sql/driver"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/larder/larder-backend/pkg/database"
	"github.com/larder/larder-backend/pkg/logger"
	"github.com/larder/larder-backend/pkg/messaging"
)

// MockDB pairs a sqlmock connection with the service's database handle.
// Expected SQL is matched literally, not as a regexp.
//
//	mockDB := testutil.NewMockDB(t)
//	defer mockDB.Close()
//	mockDB.ExpectQuery("FROM branch_quantities").WillReturnRows(testutil.MockRows("quantity"))
//	repo := repository.NewQuantityRepository(mockDB.Database())
type MockDB struct {
	DB   *sqlx.DB
	Mock sqlmock.Sqlmock
}

// NewMockDB opens a sqlmock connection.
func NewMockDB(t *testing.T) *MockDB {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return &MockDB{DB: sqlx.NewDb(conn, "postgres"), Mock: mock}
}

// Database returns a handle repositories can be built on.
func (m *MockDB) Database() *database.DB {
	return database.Wrap(m.DB, logger.Nop())
}

// Close closes the mock connection.
func (m *MockDB) Close() error {
	return m.DB.Close()
}

// ExpectQuery expects a query containing sql.
func (m *MockDB) ExpectQuery(sql string) *sqlmock.ExpectedQuery {
	return m.Mock.ExpectQuery(regexp.QuoteMeta(sql))
}

// ExpectExec expects a statement containing sql.
func (m *MockDB) ExpectExec(sql string) *sqlmock.ExpectedExec {
	return m.Mock.ExpectExec(regexp.QuoteMeta(sql))
}

// ExpectationsWereMet fails t if any expectation was not consumed.
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	if err := m.Mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sql expectations: %v", err)
	}
}

// MockRows starts a result set with the given columns.
func MockRows(columns ...string) *sqlmock.Rows {
	return sqlmock.NewRows(columns)
}

// AnyUUID matches a generated id argument.
type AnyUUID struct{}

// Match implements sqlmock.Argument.
func (AnyUUID) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// PublishedEvent is one call to MockPublisher.Publish.
type PublishedEvent struct {
	Type          string
	Payload       interface{}
	CorrelationID string
}

// MockPublisher records events in publish order. It satisfies events.Sender.
type MockPublisher struct {
	mu              sync.Mutex
	PublishedEvents []PublishedEvent
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// Publish records the event along with the correlation id on ctx.
func (m *MockPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedEvents = append(m.PublishedEvents, PublishedEvent{
		Type:          eventType,
		Payload:       payload,
		CorrelationID: messaging.CorrelationID(ctx),
	})
	return nil
}

// Events returns the recorded events of one type.
func (m *MockPublisher) Events(eventType string) []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PublishedEvent
	for _, e := range m.PublishedEvents {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// AssertEventPublished fails t unless at least one eventType was recorded.
func (m *MockPublisher) AssertEventPublished(t *testing.T, eventType string) {
	t.Helper()
	if len(m.Events(eventType)) == 0 {
		t.Errorf("no %q event published", eventType)
	}
}

// AssertNoEventsPublished fails t if anything was recorded.
func (m *MockPublisher) AssertNoEventsPublished(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.PublishedEvents); n > 0 {
		t.Errorf("expected no events, got %d: %+v", n, m.PublishedEvents)
	}
}

// Reset forgets everything recorded so far.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedEvents = nil
}
