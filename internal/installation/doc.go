// Package installation resolves and persists OAuth installation credentials
// for apps installed org-wide or per workspace, keeping bot and user grants
// independently lived.
package installation
