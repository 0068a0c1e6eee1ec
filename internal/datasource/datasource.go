package datasource

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/spectriclabs/gmrt-ingest/internal/cache"
	"github.com/spectriclabs/gmrt-ingest/internal/config"
	"github.com/spectriclabs/gmrt-ingest/internal/fileset"
	"github.com/spectriclabs/gmrt-ingest/internal/header"
)

const minioSubDir = "miniocache"

var (
	// fetches collapses concurrent downloads of the same object.
	fetches     singleflight.Group
	fetchObject = getMinioObject
)

func getMinioObject(ctx context.Context, loc config.Location, objectPath string) (io.ReadCloser, error) {
	minioClient, err := minio.New(
		loc.Location,
		&minio.Options{
			Creds:  credentials.NewStaticV4(loc.MinioAccessKey, loc.MinioSecretKey, ""),
			Secure: loc.MinioUseSSL,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to minio at %s: %w", loc.Location, err)
	}
	object, err := minioClient.GetObject(ctx, loc.MinioBucket, objectPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("getting object %s: %w", objectPath, err)
	}
	return object, nil
}

// fetchToCache downloads one object into the cache.
func fetchToCache(
	ctx context.Context,
	loc config.Location,
	objectPath string,
	sdsCache *cache.Cache,
	cacheFileName string,
	logger *zap.Logger,
) error {
	logger.Info(
		"Minio file not in local cache, fetching",
		zap.String("bucket", loc.MinioBucket),
		zap.String("object", objectPath),
	)
	start := time.Now()
	object, err := fetchObject(ctx, loc, objectPath)
	if err != nil {
		return err
	}
	defer object.Close()

	num, err := sdsCache.PutItemInCache(cacheFileName, minioSubDir, object)
	if err != nil {
		return err
	}
	logger.Info(
		"Fetched minio object",
		zap.String("object", objectPath),
		zap.Int64("bytes", num),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// OpenDataSource opens `fileName` from the configured location
// `locationName`. Minio objects are downloaded into the local cache
// first and served from there.
func OpenDataSource(
	ctx context.Context,
	cfg *config.Configuration,
	sdsCache *cache.Cache,
	logger *zap.Logger,
	locationName string,
	fileName string,
) (*os.File, error) {
	currentLocation, ok := cfg.FindLocation(locationName)
	if !ok {
		return nil, fmt.Errorf("couldn't find location %s", locationName)
	}

	switch currentLocation.LocationType {
	case "localFile":
		fullFilepath := filepath.Join(currentLocation.Path, fileName)
		logger.Debug(
			"Reading local file",
			zap.String("location_name", locationName),
			zap.String("path", fullFilepath),
		)
		return os.Open(fullFilepath)
	case "minio":
		objectPath := path.Join(currentLocation.Path, fileName)
		cacheFileName := cache.CacheFileName(currentLocation.MinioBucket, objectPath)
		if file, err := sdsCache.GetItemFromCache(cacheFileName, minioSubDir); err == nil {
			return file, nil
		}

		key := filepath.Join(sdsCache.Location, minioSubDir, cacheFileName)
		_, err, _ := fetches.Do(key, func() (interface{}, error) {
			// A fetch that finished after the lookup above already
			// filled the cache.
			if sdsCache.HasItem(cacheFileName, minioSubDir) {
				return nil, nil
			}
			return nil, fetchToCache(ctx, currentLocation, objectPath, sdsCache, cacheFileName, logger)
		})
		if err != nil {
			return nil, err
		}
		return sdsCache.GetItemFromCache(cacheFileName, minioSubDir)
	default:
		return nil, fmt.Errorf("unsupported location type %s in %s", currentLocation.LocationType, currentLocation.LocationName)
	}
}

// Source is one opened raw file together with its parsed header.
type Source struct {
	Name string
	File *os.File
	Info *header.Info
	Size int64
}

// FileSet is an ordered set of opened sources.
type FileSet []*Source

// OpenFileSet opens every raw file in `names` and its header
// concurrently. The order of `names` is kept.
func OpenFileSet(
	ctx context.Context,
	cfg *config.Configuration,
	sdsCache *cache.Cache,
	logger *zap.Logger,
	locationName string,
	names []string,
) (FileSet, error) {
	set := make(FileSet, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for ii, name := range names {
		g.Go(func() error {
			src, err := openSource(gctx, cfg, sdsCache, logger, locationName, name)
			if err != nil {
				return err
			}
			set[ii] = src
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		set.Close()
		return nil, err
	}
	return set, nil
}

func openSource(
	ctx context.Context,
	cfg *config.Configuration,
	sdsCache *cache.Cache,
	logger *zap.Logger,
	locationName string,
	name string,
) (*Source, error) {
	hdrFile, err := OpenDataSource(ctx, cfg, sdsCache, logger, locationName, header.Path(name))
	if err != nil {
		return nil, fmt.Errorf("opening header for %s: %w", name, err)
	}
	info, err := header.Parse(hdrFile, logger)
	hdrFile.Close()
	if err != nil {
		return nil, fmt.Errorf("parsing header for %s: %w", name, err)
	}

	file, err := OpenDataSource(ctx, cfg, sdsCache, logger, locationName, name)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &Source{Name: name, File: file, Info: info, Size: fi.Size()}, nil
}

// Sources returns the aggregation inputs, in order.
func (s FileSet) Sources() []fileset.Source {
	out := make([]fileset.Source, len(s))
	for ii, src := range s {
		out[ii] = fileset.Source{Info: src.Info, Size: src.Size}
	}
	return out
}

// Readers returns the raw files, in order.
func (s FileSet) Readers() []io.ReadSeeker {
	out := make([]io.ReadSeeker, len(s))
	for ii, src := range s {
		out[ii] = src.File
	}
	return out
}

func (s FileSet) Close() {
	for _, src := range s {
		if src != nil {
			src.File.Close()
		}
	}
}
