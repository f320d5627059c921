package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"github.com/casualjim/relay/pkg/slogx"
	"github.com/casualjim/relay/tool"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// UserInformationName is the name the model calls the user lookup by.
const UserInformationName = "get_user_information"

const sampleIDLimit = 5

// UserDirectory is the record source behind get_user_information.
type UserDirectory interface {
	// FindUser returns the record for id. A missing user is reported with
	// found set to false and a nil error.
	FindUser(ctx context.Context, id string) (record map[string]any, found bool, err error)
	// SampleUserIDs returns up to limit known ids.
	SampleUserIDs(ctx context.Context, limit int) ([]string, error)
}

// MemoryDirectory is an in-memory UserDirectory that keeps insertion order.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users *orderedmap.OrderedMap[string, map[string]any]
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: orderedmap.New[string, map[string]any]()}
}

// Put stores a copy of record under id.
func (d *MemoryDirectory) Put(id string, record map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users.Set(id, maps.Clone(record))
}

func (d *MemoryDirectory) FindUser(_ context.Context, id string) (map[string]any, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	record, ok := d.users.Get(id)
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(record), true, nil
}

func (d *MemoryDirectory) SampleUserIDs(_ context.Context, limit int) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, min(limit, d.users.Len()))
	for pair := d.users.Oldest(); pair != nil && len(ids) < limit; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids, nil
}

// SampleDirectory returns a directory seeded with a handful of demo records.
func SampleDirectory() *MemoryDirectory {
	d := NewMemoryDirectory()
	d.Put("U1000", map[string]any{
		"User_ID":           "U1000",
		"Age":               34,
		"Country":           "Canada",
		"Employment_Status": "Employed",
		"Annual_Income":     85000,
		"Savings_Balance":   24000,
		"Investment_Type":   "Index Funds",
		"Risk_Profile":      "Moderate",
	})
	d.Put("U1001", map[string]any{
		"User_ID":           "U1001",
		"Age":               51,
		"Country":           "Germany",
		"Employment_Status": "Self-Employed",
		"Annual_Income":     120000,
		"Savings_Balance":   310000,
		"Investment_Type":   "Bonds",
		"Risk_Profile":      "Conservative",
	})
	d.Put("U1002", map[string]any{
		"User_ID":           "U1002",
		"Age":               27,
		"Country":           "India",
		"Employment_Status": "Student",
		"Annual_Income":     12000,
		"Savings_Balance":   1500,
		"Investment_Type":   "Crypto",
		"Risk_Profile":      "Aggressive",
	})
	return d
}

type userInformationInput struct {
	UserID string `json:"user_id" jsonschema:"description=The unique User ID to search for (e.g. 'U1000' or 'U1001')"`
}

// UserInformation looks users up in dir.
func UserInformation(dir UserDirectory) tool.Definition {
	log := slog.Default().With(slogx.LoggerName("relay.tool.user_information"))

	return tool.MustTyped(func(ctx context.Context, in userInformationInput) (any, error) {
		userID := strings.TrimSpace(in.UserID)
		if userID == "" {
			return userFailure("No user_id provided"), nil
		}

		log.InfoContext(ctx, "searching for user", slog.String("user_id", userID))
		record, found, err := dir.FindUser(ctx, userID)
		if err != nil {
			log.ErrorContext(ctx, "user lookup failed", slogx.Error(err))
			return userFailure(fmt.Sprintf("Error retrieving user information: %v", err)), nil
		}
		if !found {
			log.WarnContext(ctx, "user not found", slog.String("user_id", userID))
			result := userFailure(fmt.Sprintf("No user found with ID: %s", userID))
			samples, err := dir.SampleUserIDs(ctx, sampleIDLimit)
			if err != nil {
				log.WarnContext(ctx, "failed to list sample user ids", slogx.Error(err))
			}
			result["suggestion"] = fmt.Sprintf("User ID not found. Try one of these sample IDs: [%s]", strings.Join(samples, ", "))
			return result, nil
		}

		return map[string]any{
			"success":   true,
			"user_id":   userID,
			"user_data": record,
			"message":   fmt.Sprintf("Complete user information retrieved for User ID: %s", userID),
		}, nil
	},
		tool.Name(UserInformationName),
		tool.Description("Retrieve complete financial and personal information for a specific user. Returns demographics, financial status, investment details and risk profile."),
	)
}

func userFailure(msg string) map[string]any {
	return map[string]any{
		"success":   false,
		"error":     msg,
		"user_data": nil,
	}
}
