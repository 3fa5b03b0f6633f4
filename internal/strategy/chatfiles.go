package strategy

import (
	"context"

	"finchcore/internal/persistence"
)

// StoreFileFetcher adapts a persistence.ChatStore into a ChatFileFetcher,
// resolving a Strategy's file_ids against the chat attachments store (§6.4).
type StoreFileFetcher struct {
	Store persistence.ChatStore
}

// NewStoreFileFetcher returns a ChatFileFetcher backed by store.
func NewStoreFileFetcher(store persistence.ChatStore) *StoreFileFetcher {
	return &StoreFileFetcher{Store: store}
}

func (f *StoreFileFetcher) FetchChatFile(ctx context.Context, fileID string) (string, error) {
	file, err := f.Store.GetFileByID(ctx, fileID)
	if err != nil {
		return "", err
	}
	return string(file.Data), nil
}
