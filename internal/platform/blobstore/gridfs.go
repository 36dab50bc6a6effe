package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultBucket is the GridFS bucket holding record payloads.
const DefaultBucket = "records"

type gridFSMetadata struct {
	ContentType string `bson:"contentType"`
	OwnerID     string `bson:"ownerId"`
	Hash        string `bson:"sha256"`
}

// GridFSBlobStore keeps payloads in a MongoDB GridFS bucket. File ids are the
// same UUID strings used by the other backends.
type GridFSBlobStore struct {
	database *mongo.Database
	bucket   string
	maxSize  int64
}

// ConnectMongo opens a client and verifies it with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func NewGridFSBlobStore(database *mongo.Database, bucket string, maxSize int64) *GridFSBlobStore {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &GridFSBlobStore{database: database, bucket: bucket, maxSize: maxSize}
}

// open returns a bucket bound to ctx's deadline. Buckets carry their deadlines
// as mutable state, so one is built per call.
func (s *GridFSBlobStore) open(ctx context.Context) (*gridfs.Bucket, error) {
	b, err := gridfs.NewBucket(s.database, options.GridFSBucket().SetName(s.bucket))
	if err != nil {
		return nil, fmt.Errorf("open gridfs bucket: %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		if err := b.SetReadDeadline(dl); err != nil {
			return nil, err
		}
		if err := b.SetWriteDeadline(dl); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (s *GridFSBlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content, s.maxSize)
	if err != nil {
		return nil, err
	}
	b, err := s.open(ctx)
	if err != nil {
		return nil, err
	}

	opts := options.GridFSUpload().SetMetadata(gridFSMetadata{
		ContentType: meta.ContentType,
		OwnerID:     meta.OwnerID,
		Hash:        meta.Hash,
	})
	if err := b.UploadFromStreamWithID(meta.ID, meta.FileName, bytes.NewReader(data), opts); err != nil {
		return nil, fmt.Errorf("upload to gridfs: %w", err)
	}
	return &meta, nil
}

func (s *GridFSBlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	b, err := s.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	stream, err := b.OpenDownloadStream(id)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("open gridfs stream: %w", err)
	}
	meta, err := fileMetadata(stream.GetFile())
	if err != nil {
		_ = stream.Close()
		return nil, nil, err
	}
	return stream, meta, nil
}

func (s *GridFSBlobStore) Delete(ctx context.Context, id string) error {
	b, err := s.open(ctx)
	if err != nil {
		return err
	}
	if err := b.DeleteContext(ctx, id); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("delete from gridfs: %w", err)
	}
	return nil
}

func (s *GridFSBlobStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	b, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	cur, err := b.FindContext(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("find gridfs file: %w", err)
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return nil, fmt.Errorf("find gridfs file: %w", err)
		}
		return nil, ErrBlobNotFound
	}
	var f gridfs.File
	if err := cur.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode gridfs file: %w", err)
	}
	return fileMetadata(&f)
}

func fileMetadata(f *gridfs.File) (*BlobMetadata, error) {
	var md gridFSMetadata
	if len(f.Metadata) > 0 {
		if err := bson.Unmarshal(f.Metadata, &md); err != nil {
			return nil, fmt.Errorf("decode gridfs metadata: %w", err)
		}
	}
	id, _ := f.ID.(string)
	return &BlobMetadata{
		ID:          id,
		FileName:    f.Name,
		ContentType: md.ContentType,
		Size:        f.Length,
		OwnerID:     md.OwnerID,
		Hash:        md.Hash,
		CreatedAt:   f.UploadDate.UTC().Truncate(time.Millisecond),
	}, nil
}
