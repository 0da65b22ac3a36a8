package executor

// langSpec describes how to turn a written source file into a runnable
// argv, either directly (interpreted) or via a blocking build step
// (compiled).
type langSpec struct {
	compiled    bool
	runArgv     func(srcPath string) []string
	compileArgv func(srcPath, binPath string) []string
	binArgv     func(binPath string) []string
}

var languages = map[string]langSpec{
	"python": {
		runArgv: func(src string) []string { return []string{"python3", src} },
	},
	"javascript": {
		runArgv: func(src string) []string { return []string{"node", src} },
	},
	"c": {
		compiled: true,
		compileArgv: func(src, bin string) []string {
			return []string{"gcc", src, "-o", bin, "-std=c11", "-lm"}
		},
		binArgv: func(bin string) []string { return []string{bin} },
	},
	"cpp": {
		compiled: true,
		compileArgv: func(src, bin string) []string {
			return []string{"g++", src, "-o", bin, "-std=c++17"}
		},
		binArgv: func(bin string) []string { return []string{bin} },
	},
	"rust": {
		compiled: true,
		compileArgv: func(src, bin string) []string {
			return []string{"rustc", src, "-o", bin}
		},
		binArgv: func(bin string) []string { return []string{bin} },
	},
}
