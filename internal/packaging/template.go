package packaging

// Default returns the packaging spec for the Sentinel mobile dashboard build.
func Default() *Spec {
	return &Spec{
		App: AppSection{
			Title:             "Sentinel BIST Dashboard",
			PackageName:       "sentineldashboard",
			PackageDomain:     "org.sentinelbist",
			SourceDir:         ".",
			SourceIncludeExts: "py,png,jpg,kv,atlas,json",
			Version:           "0.1",
			Requirements:      "python3,kivy,requests",
			Orientation:       "portrait",
			Fullscreen:        0,
		},
		Buildozer: BuildozerSection{
			LogLevel:   2,
			WarnOnRoot: 1,
		},
		Android: AndroidSection{
			Permissions:      "INTERNET,ACCESS_NETWORK_STATE",
			API:              31,
			MinAPI:           21,
			SDK:              31,
			NDK:              "23b",
			AcceptSDKLicense: true,
			P4ABranch:        "master",
			P4ABootstrap:     "sdl2",
			Archs:            "arm64-v8a,armeabi-v7a",
		},
	}
}
