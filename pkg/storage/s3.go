package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/beam-cloud/fpvosd/pkg/common"
	"github.com/beam-cloud/fpvosd/pkg/metrics"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type S3Source struct {
	svc            *s3.Client
	bucket         string
	key            string
	size           int64
	localCachePath string

	mu            sync.RWMutex
	cachedLocally bool
	cacheFile     *os.File
}

type S3SourceOpts struct {
	Bucket         string
	Key            string
	Region         string
	Endpoint       string
	CachePath      string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool

	// DownloadDelay postpones the background cache download so that short
	// sessions never pay for it.
	DownloadDelay time.Duration
}

func NewS3Source(ctx context.Context, opts S3SourceOpts) (*S3Source, error) {
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")

	if opts.AccessKey != "" && opts.SecretKey != "" {
		accessKey = opts.AccessKey
		secretKey = opts.SecretKey
	}

	cfg, err := getAWSConfig(ctx, accessKey, secretKey, opts.Region, opts.Endpoint)
	if err != nil {
		return nil, err
	}

	svc := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return newS3Source(ctx, svc, opts)
}

func newS3Source(ctx context.Context, svc *s3.Client, opts S3SourceOpts) (*S3Source, error) {
	head, err := svc.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(opts.Bucket),
		Key:    aws.String(opts.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot access object <s3://%s/%s>: %w", opts.Bucket, opts.Key, err)
	}

	s := &S3Source{
		svc:            svc,
		bucket:         opts.Bucket,
		key:            opts.Key,
		size:           aws.ToInt64(head.ContentLength),
		localCachePath: opts.CachePath,
	}

	if opts.CachePath != "" {
		cacheFile, err := os.OpenFile(opts.CachePath, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache file <%s>: %w", opts.CachePath, err)
		}
		s.cacheFile = cacheFile
		go s.startBackgroundDownload(opts.DownloadDelay)
	}

	return s, nil
}

func getAWSConfig(ctx context.Context, accessKey string, secretKey string, region string, endpoint string) (aws.Config, error) {
	var useDualStack aws.DualStackEndpointState

	httpClient := &http.Client{}
	// Custom endpoints (localstack, minio) are left on the default dialer.
	if endpoint == "" && common.IsIPv6Available() {
		useDualStack = aws.DualStackEndpointStateEnabled
		httpClient.Transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         common.DialContextIPv6,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	} else {
		useDualStack = aws.DualStackEndpointStateDisabled
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithUseDualStackEndpoint(useDualStack),
		config.WithHTTPClient(httpClient),
	}

	if endpoint != "" {
		loadOpts = append(loadOpts, config.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: endpoint, SigningRegion: region}, nil
			})))
	}

	if accessKey != "" && secretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	return config.LoadDefaultConfig(ctx, loadOpts...)
}

func (s *S3Source) startBackgroundDownload(delay time.Duration) {
	s.mu.RLock()
	cacheFile := s.cacheFile
	s.mu.RUnlock()
	if cacheFile == nil {
		return
	}

	if fi, err := cacheFile.Stat(); err == nil && fi.Size() == s.size {
		log.Info().Str("path", s.localCachePath).Msg("cache file exists")
		s.mu.Lock()
		s.cachedLocally = true
		s.mu.Unlock()
		return
	}

	time.Sleep(delay)

	tmpCacheFile := fmt.Sprintf("%s.%s", s.localCachePath, uuid.New().String()[:6])
	lockFilePath := fmt.Sprintf("%s.lock", s.localCachePath)

	fileLock := flock.New(lockFilePath)
	locked, err := fileLock.TryLock()
	if err != nil {
		log.Error().Err(err).Msg("error while trying to acquire file lock")
		return
	}
	if !locked {
		log.Warn().Str("path", s.localCachePath).Msg("another process is already caching, skipping download")
		return
	}
	defer fileLock.Unlock()
	defer os.Remove(lockFilePath)

	log.Info().Str("path", s.localCachePath).Msg("caching container")
	startTime := time.Now()

	f, err := os.Create(tmpCacheFile)
	if err != nil {
		log.Error().Err(err).Str("path", tmpCacheFile).Msg("failed to create cache file")
		return
	}
	defer f.Close()

	downloader := manager.NewDownloader(s.svc)
	downloader.Concurrency = 8

	_, err = downloader.Download(context.Background(), f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to download object")
		os.Remove(tmpCacheFile)
		return
	}

	if err := os.Rename(tmpCacheFile, s.localCachePath); err != nil {
		log.Error().Err(err).Str("path", s.localCachePath).Msg("failed to move downloaded file to cache path")
		return
	}

	reopened, err := os.Open(s.localCachePath)
	if err != nil {
		return
	}

	s.mu.Lock()
	if s.cacheFile == nil {
		// closed while downloading
		s.mu.Unlock()
		reopened.Close()
		return
	}
	s.cacheFile.Close()
	s.cacheFile = reopened
	s.cachedLocally = true
	s.mu.Unlock()

	log.Info().Str("path", s.localCachePath).Dur("took", time.Since(startTime)).Msg("container cached")
}

func (s *S3Source) CachedLocally() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cachedLocally
}

func (s *S3Source) ReadAt(dest []byte, off int64) (int, error) {
	if len(dest) == 0 {
		return 0, nil
	}
	if off >= s.size {
		return 0, io.EOF
	}

	want := dest
	if off+int64(len(want)) > s.size {
		want = dest[:s.size-off]
	}

	n, err := s.read(want, off)
	if err != nil {
		return n, err
	}
	if n < len(dest) {
		return n, io.EOF
	}
	return n, nil
}

func (s *S3Source) read(dest []byte, off int64) (int, error) {
	s.mu.RLock()
	if s.cachedLocally {
		n, err := s.cacheFile.ReadAt(dest, off)
		s.mu.RUnlock()
		if err == nil {
			metrics.RecordRead(int64(n), true)
			return n, nil
		}
		// Fall back to the bucket if the local cache fails for some reason
	} else {
		s.mu.RUnlock()
	}

	return s.downloadChunk(dest, off, off+int64(len(dest))-1)
}

func (s *S3Source) downloadChunk(dest []byte, start int64, end int64) (int, error) {
	began := time.Now()
	resp, err := s.svc.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.ReadFull(resp.Body, dest)
	metrics.RecordRangeGet(s.Name(), int64(n), time.Since(began))
	metrics.RecordRead(int64(n), false)
	if err == io.ErrUnexpectedEOF {
		return n, nil
	}
	return n, err
}

func (s *S3Source) Size() int64 {
	return s.size
}

func (s *S3Source) Name() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

func (s *S3Source) CanSeek() bool {
	return true
}

func (s *S3Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cacheFile != nil {
		s.cacheFile.Close()
		s.cacheFile = nil
	}
	s.cachedLocally = false

	return nil
}
