package tools

// 选项令牌。前端复选框与命令行参数之间用静态查表映射，
// 未知令牌直接忽略，保证向前兼容
const (
	OptMitmPatch       = "mitm_patch"
	OptQuarkAnalysis   = "quark_analysis"
	OptDecompileJava   = "decompile_java"
	OptDeobf           = "deobf"
	OptShowBadCode     = "show_bad_code"
	OptNoSrc           = "no_src"
	OptNoRes           = "no_res"
	OptForceManifest   = "force_manifest"
	OptNoAssets        = "no_assets"
	OptOnlyMainClasses = "only_main_classes"
	OptNoDebugInfo     = "no_debug_info"
	OptNoCrunch        = "no_crunch"
	OptUseAapt2        = "use_aapt2"
)

// decodeFlags apktool decode 选项表
var decodeFlags = map[string][]string{
	OptNoSrc:           {"-s"},
	OptNoRes:           {"-r"},
	OptForceManifest:   {"--force-manifest"},
	OptNoAssets:        {"--no-assets"},
	OptOnlyMainClasses: {"--only-main-classes"},
	OptNoDebugInfo:     {"-b"},
}

// jadxFlags JADX 反编译选项表
var jadxFlags = map[string][]string{
	OptDeobf:       {"--deobf"},
	OptShowBadCode: {"--show-bad-code"},
}

// buildFlags apktool build 选项表
var buildFlags = map[string][]string{
	OptNoCrunch: {"--no-crunch"},
	OptUseAapt2: {"--use-aapt2"},
}

// DecodeArgs 把选项令牌映射为 apktool d 的附加参数
func DecodeArgs(options []string) []string {
	return mapFlags(decodeFlags, options)
}

// JadxArgs 把选项令牌映射为 jadx 的附加参数
func JadxArgs(options []string) []string {
	return mapFlags(jadxFlags, options)
}

// BuildArgs 把选项令牌映射为 apktool b 的附加参数
func BuildArgs(options []string) []string {
	return mapFlags(buildFlags, options)
}

// HasOption 判断令牌是否被选中
func HasOption(options []string, token string) bool {
	for _, o := range options {
		if o == token {
			return true
		}
	}
	return false
}

func mapFlags(table map[string][]string, options []string) []string {
	args := make([]string, 0, len(options))
	for _, o := range options {
		if flags, ok := table[o]; ok {
			args = append(args, flags...)
		}
	}
	return args
}
