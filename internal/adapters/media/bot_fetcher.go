package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-greeter/internal/domain"
)

// Максимальный размер файла, который Bot API отдает через getFile.
const defaultMaxSize = 20 << 20

// fileGetter определяет метод Bot API, который мы используем.
type fileGetter interface {
	GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error)
}

// Option определяет функциональную опцию для конфигурации BotFetcher.
type Option func(*BotFetcher)

// WithHTTPClient устанавливает HTTP-клиент для скачивания файлов.
func WithHTTPClient(c *http.Client) Option {
	return func(f *BotFetcher) {
		if c != nil {
			f.httpClient = c
		}
	}
}

// WithFileEndpoint переопределяет шаблон адреса файлов (по умолчанию tgbotapi.FileEndpoint).
func WithFileEndpoint(endpoint string) Option {
	return func(f *BotFetcher) {
		if endpoint != "" {
			f.fileEndpoint = endpoint
		}
	}
}

// WithMaxSize ограничивает размер скачиваемого файла.
func WithMaxSize(n int64) Option {
	return func(f *BotFetcher) {
		if n > 0 {
			f.maxSize = n
		}
	}
}

// WithLogger устанавливает логгер.
func WithLogger(l *slog.Logger) Option {
	return func(f *BotFetcher) {
		if l != nil {
			f.log = l
		}
	}
}

// BotFetcher получает медиа шаблонов из Bot API по file_id.
// Учетные данные бота не связаны с отправляющими identity.
type BotFetcher struct {
	api          fileGetter
	token        string
	fileEndpoint string
	httpClient   *http.Client
	maxSize      int64
	log          *slog.Logger
}

// NewBotFetcher создает BotFetcher поверх клиента Bot API.
func NewBotFetcher(api *tgbotapi.BotAPI, opts ...Option) *BotFetcher {
	return newBotFetcher(api, api.Token, opts...)
}

func newBotFetcher(api fileGetter, token string, opts ...Option) *BotFetcher {
	f := &BotFetcher{
		api:          api,
		token:        token,
		fileEndpoint: tgbotapi.FileEndpoint,
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
		maxSize:      defaultMaxSize,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch получает временный путь файла и скачивает его содержимое.
func (f *BotFetcher) Fetch(ctx context.Context, kind domain.MediaKind, fileID string) (domain.File, error) {
	info, err := f.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return domain.File{}, fmt.Errorf("%w: get file %s: %w", domain.ErrMediaFetch, fileID, err)
	}
	if info.FilePath == "" {
		return domain.File{}, fmt.Errorf("%w: file %s has no download path", domain.ErrMediaFetch, fileID)
	}

	url := fmt.Sprintf(f.fileEndpoint, f.token, info.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.File{}, fmt.Errorf("%w: build request: %w", domain.ErrMediaFetch, err)
	}

	f.log.DebugContext(ctx, "Downloading media", "kind", kind, "file_path", info.FilePath, "size", info.FileSize)
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return domain.File{}, fmt.Errorf("%w: download: %w", domain.ErrMediaFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.File{}, fmt.Errorf("%w: download returned status %d", domain.ErrMediaFetch, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return domain.File{}, fmt.Errorf("%w: read body: %w", domain.ErrMediaFetch, err)
	}
	if int64(len(data)) > f.maxSize {
		return domain.File{}, fmt.Errorf("%w: file %s exceeds %d bytes", domain.ErrMediaFetch, fileID, f.maxSize)
	}

	return domain.File{
		Kind: kind,
		Name: fileName(kind, info.FilePath),
		Data: data,
	}, nil
}

// fileName берет имя из пути Bot API (например, photos/file_3.jpg),
// чтобы при загрузке сохранилось расширение.
func fileName(kind domain.MediaKind, filePath string) string {
	name := path.Base(filePath)
	if name == "." || name == "/" || name == "" {
		return string(kind)
	}
	return name
}
