package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// networkSecurityConfig 宽松的网络信任策略：放行明文流量，
// 信任锚同时包含系统与用户证书库，便于 HTTPS 抓包审计
const networkSecurityConfig = `<?xml version="1.0" encoding="utf-8"?>
<network-security-config>
    <base-config cleartextTrafficPermitted="true">
        <trust-anchors>
            <certificates src="system" />
            <certificates src="user" />
        </trust-anchors>
    </base-config>
</network-security-config>
`

const (
	manifestName   = "AndroidManifest.xml"
	configRelPath  = "res/xml/network_security_config.xml"
	configAttr     = "android:networkSecurityConfig"
	configAttrFull = `<application android:networkSecurityConfig="@xml/network_security_config"`
)

// ApplyMITM 对解包后的项目目录注入网络信任补丁
// 纯文件系统操作，不调用任何外部工具：
//  1. 在固定相对路径写入 network_security_config.xml
//  2. 对 AndroidManifest.xml 做幂等的文本插入，引用该资源
//
// 补丁作用于解包后的项目目录而非成品 APK。manifest 已含该属性时是 no-op；
// manifest 缺失时返回错误而不是 panic。文本替换方式对格式敏感，
// 但幂等性始终保证：重复调用不会产生重复属性
func ApplyMITM(projectDir string, logger *logrus.Logger) (string, error) {
	// 1. 写入网络安全配置文件
	configPath := filepath.Join(projectDir, filepath.FromSlash(configRelPath))
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create res/xml directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(networkSecurityConfig), 0644); err != nil {
		return "", fmt.Errorf("failed to write network_security_config.xml: %w", err)
	}

	// 2. 改写 manifest，引用新资源
	manifestPath := filepath.Join(projectDir, manifestName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("AndroidManifest.xml not found in %s", projectDir)
		}
		return "", fmt.Errorf("failed to read AndroidManifest.xml: %w", err)
	}

	content := string(data)
	if strings.Contains(content, configAttr) {
		// 已声明过，保持不变
		logger.WithField("project", projectDir).Info("Manifest already references a network security config, skipping")
		return "MITM patch: manifest already patched, network_security_config.xml refreshed.", nil
	}

	patched := strings.Replace(content, "<application", configAttrFull, 1)
	if patched == content {
		return "", fmt.Errorf("no <application> element found in AndroidManifest.xml")
	}

	if err := os.WriteFile(manifestPath, []byte(patched), 0644); err != nil {
		return "", fmt.Errorf("failed to write AndroidManifest.xml: %w", err)
	}

	logger.WithField("project", projectDir).Info("MITM patch applied")
	return "MITM patch applied to AndroidManifest.xml and network_security_config.xml created.", nil
}
