package kv

import (
	"context"
	"fmt"
	"net/url"
	"time"

	pfirestore "finitefield.org/storefront/internal/platform/firestore"
)

type firestoreDocument struct {
	Value     []byte    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
	ExpiresAt time.Time `firestore:"expiresAt,omitempty"`
}

func (d firestoreDocument) expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

// Firestore stores each key as one document in a collection. Keys are path-escaped into document IDs.
type Firestore struct {
	provider   *pfirestore.Provider
	collection string
	ttl        time.Duration
	now        func() time.Time
}

// FirestoreOption customises the Firestore store.
type FirestoreOption func(*Firestore)

// WithFirestoreTTL stamps every written document with expiresAt = write time + ttl. Reads treat expired
// documents as missing; a Firestore TTL policy on expiresAt deletes them. Zero keeps documents forever.
func WithFirestoreTTL(ttl time.Duration) FirestoreOption {
	return func(f *Firestore) { f.ttl = ttl }
}

// NewFirestore returns a Store backed by the given collection.
func NewFirestore(provider *pfirestore.Provider, collection string, opts ...FirestoreOption) (*Firestore, error) {
	if provider == nil {
		return nil, fmt.Errorf("kv: firestore provider is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("kv: firestore collection is required")
	}
	f := &Firestore{provider: provider, collection: collection, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Firestore) Get(ctx context.Context, key string) ([]byte, error) {
	client, err := f.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := client.Collection(f.collection).Doc(documentID(key)).Get(ctx)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, pfirestore.WrapError("kv.firestore.get", err)
	}
	var doc firestoreDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("kv: decode firestore document %s: %w", key, err)
	}
	if doc.expired(f.now()) {
		return nil, ErrNotFound
	}
	return doc.Value, nil
}

func (f *Firestore) Set(ctx context.Context, key string, value []byte) error {
	client, err := f.provider.Client(ctx)
	if err != nil {
		return err
	}
	now := f.now().UTC()
	doc := firestoreDocument{Value: value, UpdatedAt: now}
	if f.ttl > 0 {
		doc.ExpiresAt = now.Add(f.ttl)
	}
	if _, err := client.Collection(f.collection).Doc(documentID(key)).Set(ctx, doc); err != nil {
		return pfirestore.WrapError("kv.firestore.set", err)
	}
	return nil
}

func (f *Firestore) Delete(ctx context.Context, key string) error {
	client, err := f.provider.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Collection(f.collection).Doc(documentID(key)).Delete(ctx); err != nil {
		return pfirestore.WrapError("kv.firestore.delete", err)
	}
	return nil
}

func documentID(key string) string {
	return url.PathEscape(key)
}
