package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/medspa-consent-intake/pkg/logging"
)

// Product is one selectable injectable.
type Product struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// S3API is the subset of the S3 client used by Loader.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Loader reads the product list from a local file or an s3://bucket/key URI.
type Loader struct {
	s3Client S3API
	logger   *logging.Logger
}

func NewLoader(s3Client S3API, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.Default()
	}
	return &Loader{s3Client: s3Client, logger: logger}
}

// Load returns the products in file order. An empty source yields an empty list.
func (l *Loader) Load(ctx context.Context, source string) ([]Product, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return []Product{}, nil
	}

	var (
		data []byte
		err  error
	)
	if bucket, key, ok := parseS3URI(source); ok {
		data, err = l.fetchS3(ctx, bucket, key)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, err
	}

	products, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", source, err)
	}
	l.logger.Info("product catalog loaded", "source", source, "count", len(products))
	return products, nil
}

func (l *Loader) fetchS3(ctx context.Context, bucket, key string) ([]byte, error) {
	if l.s3Client == nil {
		return nil, errors.New("catalog: s3 source configured without an s3 client")
	}
	resp, err := l.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: s3 get %s/%s: %w", bucket, key, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("catalog: read s3 object: %w", err)
	}
	return data, nil
}

// Parse decodes a JSON array of {id,name}. Entries must have a positive id and
// a non-empty name; ids must be unique.
func Parse(data []byte) ([]Product, error) {
	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	seen := make(map[int]bool, len(products))
	for i, p := range products {
		products[i].Name = strings.TrimSpace(p.Name)
		if p.ID <= 0 || products[i].Name == "" {
			return nil, fmt.Errorf("product %d: id and name required", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("product %d: duplicate id %d", i, p.ID)
		}
		seen[p.ID] = true
	}
	if products == nil {
		products = []Product{}
	}
	return products, nil
}

func parseS3URI(source string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(source, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
