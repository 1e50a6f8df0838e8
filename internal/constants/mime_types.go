package constants

// AttachmentTypes is the upload allow-list keyed by lowercase extension.
// Anything else a visitor sends is rejected before it touches disk.
var AttachmentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".pdf":  "application/pdf",
	".txt":  "text/plain; charset=utf-8",
	".csv":  "text/csv",
	".log":  "text/plain; charset=utf-8",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
}
