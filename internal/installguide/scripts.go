package installguide

import "strings"

const binaryPlaceholder = "__BINARY__"

type script struct {
	name string
	body string
}

const linuxInstall = `#!/usr/bin/env bash
set -eu

SCRIPT_DIR="$(CDPATH= cd -- "$(dirname -- "$0")" && pwd)"
"$SCRIPT_DIR/start.sh"
`

const linuxStart = `#!/usr/bin/env bash
set -eu

SCRIPT_DIR="$(CDPATH= cd -- "$(dirname -- "$0")" && pwd)"
PID_FILE="$SCRIPT_DIR/host-agent.pid"
LOG_DIR="$SCRIPT_DIR/logs"
LOG_FILE="$LOG_DIR/host-agent.log"
BINARY_PATH="$SCRIPT_DIR/__BINARY__"
CONFIG_PATH="$SCRIPT_DIR/config.yaml"

mkdir -p "$LOG_DIR"
chmod +x "$BINARY_PATH"

if [ -f "$PID_FILE" ] && kill -0 "$(cat "$PID_FILE")" 2>/dev/null; then
  echo "HostAgent already running with PID $(cat "$PID_FILE")"
  exit 0
fi

nohup "$BINARY_PATH" --config "$CONFIG_PATH" >> "$LOG_FILE" 2>&1 &
printf '%s' "$!" > "$PID_FILE"
echo "HostAgent started in background. PID: $(cat "$PID_FILE")"
echo "Log file: $LOG_FILE"
`

const linuxStop = `#!/usr/bin/env bash
set -eu

SCRIPT_DIR="$(CDPATH= cd -- "$(dirname -- "$0")" && pwd)"
PID_FILE="$SCRIPT_DIR/host-agent.pid"

if [ ! -f "$PID_FILE" ]; then
  echo "HostAgent is not running."
  exit 0
fi

PID="$(cat "$PID_FILE")"
if kill -0 "$PID" 2>/dev/null; then
  kill "$PID"
  echo "HostAgent stopped."
else
  echo "HostAgent process not found, removing stale PID file."
fi
rm -f "$PID_FILE"
`

const linuxUpdate = `#!/usr/bin/env bash
set -eu

SCRIPT_DIR="$(CDPATH= cd -- "$(dirname -- "$0")" && pwd)"
SOURCE_DIR="${1:-$SCRIPT_DIR}"
BINARY_NAME="__BINARY__"

# Replace binary and scripts, keep config.yaml
for FILE in "$BINARY_NAME" install.sh start.sh stop.sh update.sh; do
  if [ ! -f "$SOURCE_DIR/$FILE" ]; then
    continue
  fi
  if [ "$SOURCE_DIR/$FILE" = "$SCRIPT_DIR/$FILE" ]; then
    continue
  fi
  cp "$SOURCE_DIR/$FILE" "$SCRIPT_DIR/$FILE"
done

chmod +x "$SCRIPT_DIR/$BINARY_NAME" "$SCRIPT_DIR/install.sh" "$SCRIPT_DIR/start.sh" "$SCRIPT_DIR/stop.sh" "$SCRIPT_DIR/update.sh"
echo "HostAgent binaries and scripts updated."
echo "config.yaml preserved at $SCRIPT_DIR/config.yaml"
echo "Run ./start.sh to start the new version."
`

const windowsInstall = `@echo off
setlocal
call "%~dp0start.bat"
`

const windowsStart = `@echo off
setlocal
set "SCRIPT_DIR=%~dp0"
set "PID_FILE=%SCRIPT_DIR%host-agent.pid"
set "LOG_DIR=%SCRIPT_DIR%logs"
set "LOG_FILE=%LOG_DIR%host-agent.log"

if not exist "%LOG_DIR%" mkdir "%LOG_DIR%"

if exist "%PID_FILE%" (
  for /f "usebackq delims=" %%P in ("%PID_FILE%") do (
    tasklist /FI "PID eq %%P" | find "%%P" >nul
    if not errorlevel 1 (
      echo HostAgent already running with PID %%P
      exit /b 0
    )
  )
)

powershell -NoProfile -ExecutionPolicy Bypass -Command ^
  "$binary = Join-Path $env:SCRIPT_DIR '__BINARY__';" ^
  "$config = Join-Path $env:SCRIPT_DIR 'config.yaml';" ^
  "$pidFile = Join-Path $env:SCRIPT_DIR 'host-agent.pid';" ^
  "$logFile = Join-Path (Join-Path $env:SCRIPT_DIR 'logs') 'host-agent.log';" ^
  "$proc = Start-Process -FilePath $binary -ArgumentList '--config', $config -RedirectStandardOutput $logFile -RedirectStandardError $logFile -WindowStyle Hidden -PassThru;" ^
  "Set-Content -Path $pidFile -Value $proc.Id;" ^
  "Write-Output ('HostAgent started in background. PID: ' + $proc.Id);" ^
  "Write-Output ('Log file: ' + $logFile)"
`

const windowsStop = `@echo off
setlocal
set "PID_FILE=%~dp0host-agent.pid"

if not exist "%PID_FILE%" (
  echo HostAgent is not running.
  exit /b 0
)

for /f "usebackq delims=" %%P in ("%PID_FILE%") do (
  powershell -NoProfile -ExecutionPolicy Bypass -Command "Stop-Process -Id %%P -Force -ErrorAction SilentlyContinue"
  echo HostAgent stopped.
)
del /q "%PID_FILE%" >nul 2>nul
`

const windowsUpdate = `@echo off
setlocal
set "SCRIPT_DIR=%~dp0"
set "SOURCE_DIR=%~1"
if "%SOURCE_DIR%"=="" set "SOURCE_DIR=%SCRIPT_DIR%"

if exist "%SCRIPT_DIR%stop.bat" call "%SCRIPT_DIR%stop.bat"

for %%F in (__BINARY__ install.bat start.bat stop.bat update.bat) do (
  if exist "%SOURCE_DIR%\%%F" (
    if /I not "%SOURCE_DIR%\%%F"=="%SCRIPT_DIR%\%%F" copy /Y "%SOURCE_DIR%\%%F" "%SCRIPT_DIR%\%%F" >nul
  )
)

echo HostAgent binaries and scripts updated.
echo config.yaml preserved at %SCRIPT_DIR%config.yaml
echo Run start.bat to start the new version.
`

// scriptsFor returns the lifecycle scripts in archive order.
func scriptsFor(windows bool, binary string) []script {
	r := strings.NewReplacer(binaryPlaceholder, binary)
	if windows {
		return []script{
			{"install.bat", windowsInstall},
			{"start.bat", r.Replace(windowsStart)},
			{"stop.bat", windowsStop},
			{"update.bat", r.Replace(windowsUpdate)},
		}
	}
	return []script{
		{"install.sh", linuxInstall},
		{"start.sh", r.Replace(linuxStart)},
		{"stop.sh", linuxStop},
		{"update.sh", r.Replace(linuxUpdate)},
	}
}
