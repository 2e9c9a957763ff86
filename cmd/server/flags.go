package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/maynagashev/filelocker/internal/access"
	"github.com/maynagashev/filelocker/internal/services"
	"github.com/maynagashev/filelocker/internal/storage"
)

const (
	defaultServerPort    = "8080"
	defaultMaxUploadSize = "10MiB"
	defaultMinioEndpoint = "localhost:9000"
	defaultMinioUser     = "minioadmin"
	defaultMinioPassword = "minioadmin"
	defaultBucket        = "filelocker-uploads"
	defaultS3Region      = "us-east-1"
	defaultFSDir         = "./data/blobs"

	// Переменные окружения.
	envServerPort        = "SERVER_PORT"
	envTLSCertFile       = "TLS_CERT_FILE"
	envTLSKeyFile        = "TLS_KEY_FILE"
	envDatabaseDSN       = "DATABASE_DSN"
	envMigrate           = "DB_MIGRATE"
	envAccessMode        = "ACCESS_MODE"
	envMaxUploadSize     = "MAX_UPLOAD_SIZE"
	envAllowedTypes      = "ALLOWED_TYPES"
	envBlobDriver        = "BLOB_DRIVER"
	envMinioEndpoint     = "MINIO_ENDPOINT"
	envMinioUser         = "MINIO_USER"
	envMinioPassword     = "MINIO_PASSWORD" //nolint:gosec // Имя переменной окружения
	envMinioBucket       = "MINIO_BUCKET"
	envMinioSSL          = "MINIO_SSL"
	envS3Region          = "S3_REGION"
	envS3Bucket          = "S3_BUCKET"
	envS3Endpoint        = "S3_ENDPOINT"
	envS3AccessKey       = "S3_ACCESS_KEY"
	envS3SecretKey       = "S3_SECRET_KEY" //nolint:gosec // Имя переменной окружения
	envS3PathStyle       = "S3_PATH_STYLE"
	envFSDir             = "FS_DIR"
	envAdminSecret       = "ADMIN_JWT_SECRET" //nolint:gosec // Имя переменной окружения
	envReconcileInterval = "RECONCILE_INTERVAL"
	envReconcileGrace    = "RECONCILE_GRACE"
	envReconcileDelete   = "RECONCILE_DELETE"
	envLogLevel          = "LOG_LEVEL"
	envLogFormat         = "LOG_FORMAT"
)

// config хранит конфигурацию сервера.
type config struct {
	Port        string
	CertFile    string
	KeyFile     string
	DatabaseDSN string
	Migrate     bool

	AccessMode    access.Mode
	MaxUploadSize int64
	AllowedTypes  *services.TypeAllowList
	Blob          storage.Config

	AdminSecret     string
	IssueAdminToken bool
	Reconcile       services.ReconcileConfig

	LogLevel  slog.Level
	LogFormat string
}

// TLSEnabled сообщает, заданы ли сертификат и ключ.
func (c *config) TLSEnabled() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// flagEnv связывает флаги с переменными окружения.
// Переменная применяется, только если флаг не задан явно.
var flagEnv = map[string]string{
	"port":               envServerPort,
	"cert-file":          envTLSCertFile,
	"key-file":           envTLSKeyFile,
	"database-dsn":       envDatabaseDSN,
	"migrate":            envMigrate,
	"access-mode":        envAccessMode,
	"max-upload-size":    envMaxUploadSize,
	"allowed-types":      envAllowedTypes,
	"blob-driver":        envBlobDriver,
	"minio-endpoint":     envMinioEndpoint,
	"minio-user":         envMinioUser,
	"minio-password":     envMinioPassword,
	"minio-bucket":       envMinioBucket,
	"minio-ssl":          envMinioSSL,
	"s3-region":          envS3Region,
	"s3-bucket":          envS3Bucket,
	"s3-endpoint":        envS3Endpoint,
	"s3-access-key":      envS3AccessKey,
	"s3-secret-key":      envS3SecretKey,
	"s3-path-style":      envS3PathStyle,
	"fs-dir":             envFSDir,
	"admin-secret":       envAdminSecret,
	"reconcile-interval": envReconcileInterval,
	"reconcile-grace":    envReconcileGrace,
	"reconcile-delete":   envReconcileDelete,
	"log-level":          envLogLevel,
	"log-format":         envLogFormat,
}

// parseFlags разбирает флаги и переменные окружения, возвращает config или ошибку.
// Приоритет: флаг, затем переменная окружения, затем значение по умолчанию.
func parseFlags() (*config, error) {
	cfg := &config{}
	var accessMode, maxUploadSize, allowedTypes, logLevel string

	flag.StringVar(&cfg.Port, "port", defaultServerPort, "Порт HTTP(S)-сервера")
	flag.StringVar(&cfg.CertFile, "cert-file", "", "Путь к файлу TLS-сертификата, пусто - без TLS")
	flag.StringVar(&cfg.KeyFile, "key-file", "", "Путь к файлу TLS-ключа")
	flag.StringVar(&cfg.DatabaseDSN, "database-dsn", "", "Строка подключения к PostgreSQL")
	flag.BoolVar(&cfg.Migrate, "migrate", true, "Применять миграции при старте")

	flag.StringVar(&accessMode, "access-mode", string(access.ModeOwner), "Режим доступа: owner или code")
	flag.StringVar(&maxUploadSize, "max-upload-size", defaultMaxUploadSize, "Максимальный размер файла (10MiB, 500KB, ...)")
	flag.StringVar(&allowedTypes, "allowed-types", services.DefaultAllowedTypes,
		"Разрешенные MIME-типы через запятую, documents - добавить документы")

	flag.StringVar(&cfg.Blob.Driver, "blob-driver", storage.DriverMinio, "Хранилище объектов: minio, s3 или fs")
	flag.StringVar(&cfg.Blob.Minio.Endpoint, "minio-endpoint", defaultMinioEndpoint, "Адрес MinIO")
	flag.StringVar(&cfg.Blob.Minio.AccessKeyID, "minio-user", defaultMinioUser, "Логин MinIO")
	flag.StringVar(&cfg.Blob.Minio.SecretAccessKey, "minio-password", defaultMinioPassword, "Пароль MinIO")
	flag.StringVar(&cfg.Blob.Minio.BucketName, "minio-bucket", defaultBucket, "Бакет MinIO")
	flag.BoolVar(&cfg.Blob.Minio.UseSSL, "minio-ssl", false, "Подключаться к MinIO по TLS")
	flag.StringVar(&cfg.Blob.S3.Region, "s3-region", defaultS3Region, "Регион S3")
	flag.StringVar(&cfg.Blob.S3.BucketName, "s3-bucket", defaultBucket, "Бакет S3")
	flag.StringVar(&cfg.Blob.S3.Endpoint, "s3-endpoint", "", "Адрес S3-совместимого сервиса, пусто - AWS")
	flag.StringVar(&cfg.Blob.S3.AccessKeyID, "s3-access-key", "", "Ключ доступа S3, пусто - стандартная цепочка AWS")
	flag.StringVar(&cfg.Blob.S3.SecretAccessKey, "s3-secret-key", "", "Секретный ключ S3")
	flag.BoolVar(&cfg.Blob.S3.UsePathStyle, "s3-path-style", false, "Адресация бакета в пути URL")
	flag.StringVar(&cfg.Blob.FSDir, "fs-dir", defaultFSDir, "Директория для драйвера fs")

	flag.StringVar(&cfg.AdminSecret, "admin-secret", "", "Секрет JWT для служебных маршрутов, пусто - маршруты выключены")
	flag.BoolVar(&cfg.IssueAdminToken, "issue-admin-token", false, "Выпустить служебный JWT и выйти")
	flag.DurationVar(&cfg.Reconcile.Interval, "reconcile-interval", 0, "Период фоновой сверки, 0 - выключена")
	flag.DurationVar(&cfg.Reconcile.GracePeriod, "reconcile-grace", services.DefaultReconcileGrace,
		"Возраст, после которого объект без записи считается осиротевшим")
	flag.BoolVar(&cfg.Reconcile.Repair, "reconcile-delete", false, "Удалять найденные при сверке расхождения")

	flag.StringVar(&logLevel, "log-level", "info", "Уровень логирования: debug, info, warn, error")
	flag.StringVar(&cfg.LogFormat, "log-format", "text", "Формат логов: text или json")

	flag.Parse()

	if err := applyEnv(flag.CommandLine); err != nil {
		return nil, err
	}

	// Проверяем и преобразуем значения
	mode := access.Mode(strings.ToLower(strings.TrimSpace(accessMode)))
	if _, err := access.NewPolicy(mode); err != nil {
		return nil, err
	}
	cfg.AccessMode = mode

	size, err := humanize.ParseBytes(maxUploadSize)
	if err != nil {
		return nil, fmt.Errorf("некорректный размер -max-upload-size %q: %w", maxUploadSize, err)
	}
	if size == 0 {
		return nil, errors.New("максимальный размер файла должен быть больше нуля")
	}
	cfg.MaxUploadSize = int64(size)

	if cfg.AllowedTypes, err = services.ParseAllowedTypes(allowedTypes); err != nil {
		return nil, fmt.Errorf("некорректный -allowed-types: %w", err)
	}

	switch cfg.Blob.Driver {
	case storage.DriverMinio, storage.DriverS3, storage.DriverFS:
	default:
		return nil, fmt.Errorf("неизвестный драйвер хранилища %q (ожидается minio, s3 или fs)", cfg.Blob.Driver)
	}

	if err = cfg.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("некорректный уровень логирования %q", logLevel)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("некорректный формат логов %q (ожидается text или json)", cfg.LogFormat)
	}

	if cfg.Reconcile.Interval < 0 || cfg.Reconcile.GracePeriod < 0 {
		return nil, errors.New("интервалы сверки не могут быть отрицательными")
	}

	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, errors.New("для TLS нужны оба параметра: --cert-file и --key-file")
	}

	// Проверяем обязательные параметры
	if cfg.IssueAdminToken {
		if cfg.AdminSecret == "" {
			return nil, errors.New("для выпуска токена нужен секрет (--admin-secret или " + envAdminSecret + ")")
		}
		return cfg, nil
	}
	if cfg.DatabaseDSN == "" {
		return nil, errors.New("не указана строка подключения к БД (--database-dsn или " + envDatabaseDSN + ")")
	}

	return cfg, nil
}

// applyEnv подставляет переменные окружения во флаги, не заданные в командной строке.
func applyEnv(fs *flag.FlagSet) error {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})

	for name, env := range flagEnv {
		if explicit[name] {
			continue
		}
		value, ok := os.LookupEnv(env)
		if !ok {
			continue
		}
		if err := fs.Set(name, value); err != nil {
			return fmt.Errorf("некорректное значение %s=%q: %w", env, value, err)
		}
	}
	return nil
}
