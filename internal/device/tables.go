package device

import "time"

// cannedOutput is one entry of the command table.
type cannedOutput struct {
	output   string
	exitCode int
}

// commandTable maps normalized command text to its output. It is the same for every device.
var commandTable = map[string]cannedOutput{
	"pwd":    {output: "/storage/emulated/0", exitCode: 0},
	"whoami": {output: "shell", exitCode: 0},
	"id":     {output: "uid=2000(shell) gid=2000(shell) groups=2000(shell),1004(input),1007(log),1011(adb),1015(sdcard_rw),3003(inet)", exitCode: 0},
	"ls": {output: "Alarms\nAndroid\nDCIM\nDocuments\nDownload\nMovies\nMusic\nNotifications\nPictures\nPodcasts\nRingtones", exitCode: 0},
	"ls -la": {output: "total 64\n" +
		"drwxrws--- 2 u0_a123 media_rw 4096 2024-01-10 09:12 Alarms\n" +
		"drwxrws--x 5 u0_a123 media_rw 4096 2024-01-10 09:12 Android\n" +
		"drwxrws--- 4 u0_a123 media_rw 4096 2024-03-02 18:44 DCIM\n" +
		"drwxrws--- 2 u0_a123 media_rw 4096 2024-02-21 11:03 Documents\n" +
		"drwxrws--- 2 u0_a123 media_rw 4096 2024-03-05 07:30 Download\n" +
		"drwxrws--- 2 u0_a123 media_rw 4096 2024-01-10 09:12 Music\n" +
		"drwxrws--- 3 u0_a123 media_rw 4096 2024-02-28 20:15 Pictures", exitCode: 0},
	"uname -a":                         {output: "Linux localhost 5.10.157-android13-4-00001-g5c7ff5dc7aac #1 SMP PREEMPT aarch64 Toybox", exitCode: 0},
	"getprop ro.build.version.release": {output: "13", exitCode: 0},
	"getprop ro.product.model":         {output: "SM-G991B", exitCode: 0},
	"date":                             {output: "Tue Mar  5 10:24:31 UTC 2024", exitCode: 0},
	"uptime":                           {output: " 10:24:31 up 3 days, 4:12, 0 users, load average: 1.12, 0.98, 0.87", exitCode: 0},
	"df": {output: "Filesystem      1K-blocks     Used Available Use% Mounted on\n" +
		"/dev/block/dm-5   5079888  4876212    187292  97% /\n" +
		"/dev/fuse       115226880 48213504  66882304  42% /storage/emulated", exitCode: 0},
	"ps": {output: "USER      PID  PPID  VSZ    RSS   WCHAN  ADDR S NAME\n" +
		"root        1     0  10876  3012 0      0    S init\n" +
		"system   1432   612 4521120 198232 0     0    S system_server\n" +
		"u0_a123  8841   612 1532004 88120 0      0    S com.whatsapp\n" +
		"shell   12004 11990  10724  2980 0      0    R ps", exitCode: 0},
	"ip addr": {output: "1: lo: <LOOPBACK,UP,LOWER_UP> mtu 65536\n    inet 127.0.0.1/8 scope host lo\n" +
		"30: wlan0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500\n    inet 192.168.1.105/24 brd 192.168.1.255 scope global wlan0", exitCode: 0},
	"dumpsys battery": {output: "Current Battery Service state:\n  AC powered: false\n  USB powered: true\n  status: 2\n  health: 2\n  present: true\n  level: 85\n  scale: 100\n  temperature: 290", exitCode: 0},
	"pm list packages": {output: "package:com.android.chrome\npackage:com.whatsapp\npackage:com.instagram.android\npackage:com.spotify.music\npackage:com.google.android.gm", exitCode: 0},
	"su":               {output: "su: permission denied", exitCode: 1},
	"reboot":           {output: "reboot: Operation not permitted", exitCode: 1},
}

// exitNotFound is the shell's exit code for an unknown program.
const exitNotFound = 127

var fileEpoch = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func dir(parent, name string, age time.Duration) FileEntry {
	return FileEntry{Name: name, Path: parent + "/" + name, IsDirectory: true, Size: 4096, Modified: fileEpoch.Add(-age), Permissions: "drwxrws---"}
}

func file(parent, name string, size int64, age time.Duration) FileEntry {
	return FileEntry{Name: name, Path: parent + "/" + name, Size: size, Modified: fileEpoch.Add(-age), Permissions: "-rw-rw----"}
}

// fileTable maps a normalized directory path to its listing, in display order.
var fileTable = map[string][]FileEntry{
	"/storage/emulated/0": {
		dir("/storage/emulated/0", "Android", 60*24*time.Hour),
		dir("/storage/emulated/0", "DCIM", 3*24*time.Hour),
		dir("/storage/emulated/0", "Documents", 13*24*time.Hour),
		dir("/storage/emulated/0", "Download", 5*time.Hour),
		dir("/storage/emulated/0", "Music", 55*24*time.Hour),
		dir("/storage/emulated/0", "Pictures", 6*24*time.Hour),
		file("/storage/emulated/0", ".nomedia", 0, 60*24*time.Hour),
	},
	"/storage/emulated/0/DCIM": {
		dir("/storage/emulated/0/DCIM", "Camera", 3*24*time.Hour),
		dir("/storage/emulated/0/DCIM", "Screenshots", 26*time.Hour),
	},
	"/storage/emulated/0/DCIM/Camera": {
		file("/storage/emulated/0/DCIM/Camera", "IMG_20240302_184402.jpg", 3_481_223, 3*24*time.Hour),
		file("/storage/emulated/0/DCIM/Camera", "IMG_20240303_091544.jpg", 2_977_104, 2*24*time.Hour),
		file("/storage/emulated/0/DCIM/Camera", "VID_20240304_201130.mp4", 48_220_918, 14*time.Hour),
	},
	"/storage/emulated/0/DCIM/Screenshots": {
		file("/storage/emulated/0/DCIM/Screenshots", "Screenshot_20240304_083012.png", 612_004, 26*time.Hour),
	},
	"/storage/emulated/0/Download": {
		file("/storage/emulated/0/Download", "boarding_pass.pdf", 184_330, 5*time.Hour),
		file("/storage/emulated/0/Download", "invoice_0224.pdf", 92_118, 9*24*time.Hour),
		file("/storage/emulated/0/Download", "app-release.apk", 24_118_004, 20*24*time.Hour),
	},
	"/storage/emulated/0/Documents": {
		file("/storage/emulated/0/Documents", "notes.txt", 2_114, 13*24*time.Hour),
		file("/storage/emulated/0/Documents", "resume.docx", 41_870, 40*24*time.Hour),
	},
	"/storage/emulated/0/Music": {
		file("/storage/emulated/0/Music", "voice_memo_01.m4a", 1_204_551, 55*24*time.Hour),
	},
	"/storage/emulated/0/Pictures": {
		dir("/storage/emulated/0/Pictures", "WhatsApp", 6*24*time.Hour),
		file("/storage/emulated/0/Pictures", "wallpaper.jpg", 1_880_221, 30*24*time.Hour),
	},
}

// appCatalog is the static list of installed applications.
var appCatalog = []AppEntry{
	{PackageName: "com.android.chrome", Name: "Chrome", Version: "122.0.6261.64", SizeBytes: 312_000_000},
	{PackageName: "com.whatsapp", Name: "WhatsApp", Version: "2.24.5.76", SizeBytes: 148_000_000},
	{PackageName: "com.instagram.android", Name: "Instagram", Version: "321.0.0.32.111", SizeBytes: 260_000_000},
	{PackageName: "com.spotify.music", Name: "Spotify", Version: "8.9.18.512", SizeBytes: 118_000_000},
	{PackageName: "com.google.android.gm", Name: "Gmail", Version: "2024.02.11", SizeBytes: 96_000_000},
	{PackageName: "com.google.android.apps.maps", Name: "Maps", Version: "11.117.0101", SizeBytes: 184_000_000},
	{PackageName: "com.android.settings", Name: "Settings", Version: "13", System: true, SizeBytes: 32_000_000},
	{PackageName: "com.android.systemui", Name: "System UI", Version: "13", System: true, SizeBytes: 48_000_000},
}

// seedProfiles are the demo devices known before any registration.
var seedProfiles = map[string]Profile{
	"device-001": {Name: "Samsung Galaxy S21", Model: "SM-G991B", Manufacturer: "Samsung", AndroidVersion: "13", ScreenResolution: "1080x2400"},
	"device-002": {Name: "Google Pixel 7", Model: "GVU6C", Manufacturer: "Google", AndroidVersion: "14", ScreenResolution: "1080x2400"},
	"device-003": {Name: "OnePlus 9 Pro", Model: "LE2123", Manufacturer: "OnePlus", AndroidVersion: "12", ScreenResolution: "1440x3216"},
}

var networkTypes = []string{"wifi", "4g", "5g"}
