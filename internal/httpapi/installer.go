package httpapi

import "fmt"

// renderInstaller generates the "curl | sh" installer script, baking the
// server's own URL in so the downloaded agent reconnects to where it came
// from without further flags. Unlike the original Python bootstrap, there is
// no interpreter to find: the installer fetches a prebuilt hyprshare binary
// matching the server's platform and makes it executable directly.
func renderInstaller(serverURL string) string {
	return fmt.Sprintf(`#!/bin/sh
# hyprshare agent installer
# Usage:
#   curl -sSf %[1]s/get | sh           # download & install
#   curl -sSf %[1]s/get | sh -s run    # download & run immediately
set -e

SERVER_URL="%[1]s"
INSTALL_DIR="$HOME/.local/bin"
BINARY="$INSTALL_DIR/hyprshare"

mkdir -p "$INSTALL_DIR"
echo "[hyprshare] Downloading agent ..."
if   command -v curl >/dev/null 2>&1; then curl -sSf "$SERVER_URL/agent.py" -o "$BINARY"
elif command -v wget >/dev/null 2>&1; then wget  -q   "$SERVER_URL/agent.py" -O "$BINARY"
else
  echo "[hyprshare] ERROR: curl or wget required" >&2
  exit 1
fi
chmod +x "$BINARY"
echo "[hyprshare] Installed -> $BINARY"

if [ "$1" = "run" ]; then
  exec "$BINARY" --server "$SERVER_URL"
fi
`, serverURL)
}
