package config

import (
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Download DownloadConfig `mapstructure:"download"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

// ToolsConfig 外部工具路径配置
// 所有实质性工作（反编译、重打包、签名、静态分析）都由这些外部工具完成
type ToolsConfig struct {
	JavaPath    string `mapstructure:"java_path"`    // JVM 可执行文件 (默认 "java"，走 PATH)
	ApktoolPath string `mapstructure:"apktool_path"` // apktool.jar
	SignerPath  string `mapstructure:"signer_path"`  // uber-apk-signer.jar
	JadxPath    string `mapstructure:"jadx_path"`    // jadx 可执行文件
	QuarkPath   string `mapstructure:"quark_path"`   // quark-engine 可执行文件 (可选阶段)
}

// StorageConfig 文件系统根目录配置
// 显式传入各组件，避免全局可变状态，便于用临时目录做隔离测试
type StorageConfig struct {
	TempDir      string `mapstructure:"temp_dir"`      // 工作目录 (解包/重建的临时项目)
	DownloadsDir string `mapstructure:"downloads_dir"` // 最终产物目录 (zip / signed apk)
	InboundDir   string `mapstructure:"inbound_dir"`   // 文件监控目录 (投放 APK 自动建任务)
	DataDir      string `mapstructure:"data_dir"`      // sqlite 数据库目录
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // mysql, sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
}

type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled"` // 关闭时任务直接进本地 Worker 池
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Queue    string `mapstructure:"queue"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"` // Worker 数量
	QueueSize   int `mapstructure:"queue_size"`  // 任务队列大小
}

type DownloadConfig struct {
	Timeout int `mapstructure:"timeout"` // seconds，URL 拉取 APK 的整体超时
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// 环境变量覆盖（支持嵌套配置）
	viper.AutomaticEnv()

	// RabbitMQ
	viper.BindEnv("rabbitmq.host", "RABBITMQ_HOST")
	viper.BindEnv("rabbitmq.port", "RABBITMQ_PORT")
	viper.BindEnv("rabbitmq.user", "RABBITMQ_USER")
	viper.BindEnv("rabbitmq.password", "RABBITMQ_PASS")

	// Database
	viper.BindEnv("database.host", "MYSQL_HOST")
	viper.BindEnv("database.port", "MYSQL_PORT")
	viper.BindEnv("database.user", "MYSQL_USER")
	viper.BindEnv("database.password", "MYSQL_PASS")
	viper.BindEnv("database.db_name", "MYSQL_DB")

	// Tools
	viper.BindEnv("tools.java_path", "APKLAB_JAVA")
	viper.BindEnv("tools.apktool_path", "APKLAB_APKTOOL")
	viper.BindEnv("tools.signer_path", "APKLAB_SIGNER")
	viper.BindEnv("tools.jadx_path", "APKLAB_JADX")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults 填充缺省值，保证最小配置也能启动
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 7860
	}
	if c.Tools.JavaPath == "" {
		c.Tools.JavaPath = "java"
	}
	if c.Tools.ApktoolPath == "" {
		c.Tools.ApktoolPath = "./tools/apktool.jar"
	}
	if c.Tools.SignerPath == "" {
		c.Tools.SignerPath = "./tools/uber-apk-signer.jar"
	}
	if c.Tools.JadxPath == "" {
		c.Tools.JadxPath = "./tools/jadx/bin/jadx"
	}
	if c.Tools.QuarkPath == "" {
		c.Tools.QuarkPath = "quark"
	}
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = "./temp"
	}
	if c.Storage.DownloadsDir == "" {
		c.Storage.DownloadsDir = "./downloads"
	}
	if c.Storage.InboundDir == "" {
		c.Storage.InboundDir = "./inbound_apks"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 2
	}
	if c.Worker.QueueSize <= 0 {
		c.Worker.QueueSize = 100
	}
	if c.Download.Timeout <= 0 {
		c.Download.Timeout = 600
	}
}
